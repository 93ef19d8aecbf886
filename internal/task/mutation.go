package task

// PreserveProgress leaves the stored percent untouched.
const PreserveProgress = -1

// Mutation is a guarded change to a PENDING record.
type Mutation struct {
	// Status, when non-empty, moves the record to a new state.
	Status Status
	// NodeStatus, when non-nil, replaces the label.
	NodeStatus *string
	// Progress replaces the percent unless it is PreserveProgress.
	Progress int
	// CurrentStep and MaxSteps are applied only when positive.
	CurrentStep int
	MaxSteps    int
	// OutputFiles, when non-nil, replaces the joined file names.
	OutputFiles *string
}

// Apply writes the mutation onto r.
func (m Mutation) Apply(r *Record) {
	if m.Status != "" {
		r.Status = m.Status
	}
	if m.NodeStatus != nil {
		r.NodeStatus = *m.NodeStatus
	}
	if m.Progress != PreserveProgress {
		r.Progress = m.Progress
	}
	if m.CurrentStep > 0 {
		r.CurrentStep = m.CurrentStep
	}
	if m.MaxSteps > 0 {
		r.MaxSteps = m.MaxSteps
	}
	if m.OutputFiles != nil {
		r.OutputFiles = *m.OutputFiles
	}
}

// Progressed reports live progress. percent may be PreserveProgress.
func Progressed(label string, percent, currentStep, maxSteps int) Mutation {
	return Mutation{NodeStatus: &label, Progress: percent, CurrentStep: currentStep, MaxSteps: maxSteps}
}

// Labeled changes only the label.
func Labeled(label string) Mutation {
	return Mutation{NodeStatus: &label, Progress: PreserveProgress}
}

// Completed moves a record to COMPLETED with its output files.
func Completed(files []string) Mutation {
	joined := JoinFiles(files)
	return Mutation{Status: StatusCompleted, OutputFiles: &joined, Progress: PreserveProgress}
}

// Failed moves a record to FAILED with a label describing why.
func Failed(reason string) Mutation {
	label := "Failed: " + reason
	return Mutation{Status: StatusFailed, NodeStatus: &label, Progress: PreserveProgress}
}
