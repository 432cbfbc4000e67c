package protocol

// Dispatch command set (client to server, between requests).
const (
	CmdGetLatestRev = "get-latest-rev"
	CmdUpdate       = "update"
	CmdSwitch       = "switch"
	CmdStatus       = "status"
	CmdDiff         = "diff"
)

// Report command set (client to server, after an update-like command).
const (
	CmdSetPath      = "set-path"
	CmdLinkPath     = "link-path"
	CmdDeletePath   = "delete-path"
	CmdFinishReport = "finish-report"
	CmdAbortReport  = "abort-report"
)

// Auth exchange.
const (
	CmdAuthRequest  = "auth-request"
	CmdAuthResponse = "auth-response"
)

// Editor command set (server to client).
const (
	CmdTargetRev      = "target-rev"
	CmdOpenRoot       = "open-root"
	CmdAddDir         = "add-dir"
	CmdOpenDir        = "open-dir"
	CmdDeleteEntry    = "delete-entry"
	CmdChangeDirProp  = "change-dir-prop"
	CmdCloseDir       = "close-dir"
	CmdAddFile        = "add-file"
	CmdOpenFile       = "open-file"
	CmdChangeFileProp = "change-file-prop"
	CmdApplyTextDelta = "apply-textdelta"
	CmdTextDeltaChunk = "textdelta-chunk"
	CmdTextDeltaEnd   = "textdelta-end"
	CmdCloseFile      = "close-file"
	CmdCloseEdit      = "close-edit"
)

// Responses.
const (
	CmdSuccess = "success"
	CmdFailure = "failure"
)

var knownCommands = map[string]bool{
	CmdGetLatestRev: true, CmdUpdate: true, CmdSwitch: true, CmdStatus: true, CmdDiff: true,
	CmdSetPath: true, CmdLinkPath: true, CmdDeletePath: true, CmdFinishReport: true, CmdAbortReport: true,
	CmdAuthRequest: true, CmdAuthResponse: true,
	CmdTargetRev: true, CmdOpenRoot: true, CmdAddDir: true, CmdOpenDir: true, CmdDeleteEntry: true,
	CmdChangeDirProp: true, CmdCloseDir: true, CmdAddFile: true, CmdOpenFile: true, CmdChangeFileProp: true,
	CmdApplyTextDelta: true, CmdTextDeltaChunk: true, CmdTextDeltaEnd: true, CmdCloseFile: true, CmdCloseEdit: true,
	CmdSuccess: true, CmdFailure: true,
}

// IsKnownCommand reports whether cmd belongs to any command set.
func IsKnownCommand(cmd string) bool {
	return knownCommands[cmd]
}
