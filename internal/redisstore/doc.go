// Package redisstore implements task.Store on Redis so several comfygrid
// processes can share one task list.
//
// Layout, under a configurable key prefix:
//
//	<prefix>task:<id>     JSON record
//	<prefix>job:<job id>  record id
//	<prefix>tasks         set of every record id
//	<prefix>pending       set of PENDING record ids
//	<prefix>changes       pub/sub channel, one message per write
//
// Guarded updates use WATCH/MULTI/EXEC and are retried when another client
// touched the record between the read and the commit.
package redisstore
