// Package rpc defines the ledger and relayer wire surface shared by the
// server handlers and the clients.
package rpc

const (
	LedgerServiceName  = "scoreledger.v1.LedgerService"
	RelayerServiceName = "scoreledger.v1.RelayerService"

	LedgerPath  = "/" + LedgerServiceName + "/"
	RelayerPath = "/" + RelayerServiceName + "/"

	SubmitProcedure          = LedgerPath + "Submit"
	ClaimBadgeProcedure      = LedgerPath + "ClaimBadge"
	ReceiptProcedure         = LedgerPath + "Receipt"
	TotalOfProcedure         = LedgerPath + "TotalOf"
	ScoreOfProcedure         = LedgerPath + "ScoreOf"
	StatsOfProcedure         = LedgerPath + "StatsOf"
	IsClaimedProcedure       = LedgerPath + "IsClaimed"
	ClaimsProcedure          = LedgerPath + "Claims"
	EventsProcedure          = LedgerPath + "Events"
	NowProcedure             = LedgerPath + "Now"
	SubmissionCountProcedure = LedgerPath + "SubmissionCount"
	LedgerInfoProcedure      = LedgerPath + "Info"

	EncryptInputProcedure = RelayerPath + "EncryptInput"
	UserDecryptProcedure  = RelayerPath + "UserDecrypt"
)
