package ipc

import "fmt"

// ResultCode is the 32-bit status a handler writes to word 1.
//
// Layout:
//   - bits 0-9: description
//   - bits 10-17: module
//   - bits 21-26: summary
//   - bits 27-31: level
type ResultCode uint32

// ResultSuccess is the success sentinel.
const ResultSuccess ResultCode = 0

// Description is the most specific part of a result code.
type Description uint16

const (
	DescriptionSuccess            Description = 0
	DescriptionInvalidSection     Description = 1000
	DescriptionTooLarge           Description = 1001
	DescriptionNotAuthorized      Description = 1002
	DescriptionAlreadyDone        Description = 1003
	DescriptionInvalidSize        Description = 1004
	DescriptionInvalidEnumValue   Description = 1005
	DescriptionInvalidCombination Description = 1006
	DescriptionNoData             Description = 1007
	DescriptionBusy               Description = 1008
	DescriptionMisalignedAddress  Description = 1009
	DescriptionMisalignedSize     Description = 1010
	DescriptionOutOfMemory        Description = 1011
	DescriptionNotImplemented     Description = 1012
	DescriptionInvalidAddress     Description = 1013
	DescriptionInvalidPointer     Description = 1014
	DescriptionInvalidHandle      Description = 1015
	DescriptionNotInitialized     Description = 1016
	DescriptionAlreadyInitialized Description = 1017
	DescriptionNotFound           Description = 1018
	DescriptionCancelRequested    Description = 1019
	DescriptionAlreadyExists      Description = 1020
	DescriptionOutOfRange         Description = 1021
	DescriptionTimeout            Description = 1022
	DescriptionInvalidResultValue Description = 1023
)

// Module identifies the subsystem reporting a result.
type Module uint8

const (
	ModuleCommon  Module = 0
	ModuleKernel  Module = 1
	ModuleOS      Module = 6
	ModuleFS      Module = 17
	ModuleSRV     Module = 25
	ModuleFriends Module = 49
	ModulePTM     Module = 53
)

// Summary classifies a result.
type Summary uint8

const (
	SummarySuccess         Summary = 0
	SummaryNothingHappened Summary = 1
	SummaryWouldBlock      Summary = 2
	SummaryOutOfResource   Summary = 3
	SummaryNotFound        Summary = 4
	SummaryInvalidState    Summary = 5
	SummaryNotSupported    Summary = 6
	SummaryInvalidArgument Summary = 7
	SummaryWrongArgument   Summary = 8
	SummaryCanceled        Summary = 9
	SummaryStatusChanged   Summary = 10
	SummaryInternal        Summary = 11
)

// Level is the severity of a result. Levels from LevelStatus up set bit 31.
type Level uint8

const (
	LevelSuccess      Level = 0
	LevelInfo         Level = 1
	LevelStatus       Level = 25
	LevelTemporary    Level = 26
	LevelPermanent    Level = 27
	LevelUsage        Level = 28
	LevelReinitialize Level = 29
	LevelReset        Level = 30
	LevelFatal        Level = 31
)

// MakeResult packs a result code.
func MakeResult(d Description, m Module, s Summary, l Level) ResultCode {
	return ResultCode(uint32(d)&0x3FF |
		uint32(m)<<10 |
		(uint32(s)&0x3F)<<21 |
		(uint32(l)&0x1F)<<27)
}

func (r ResultCode) Description() Description { return Description(r & 0x3FF) }
func (r ResultCode) Module() Module           { return Module(r >> 10 & 0xFF) }
func (r ResultCode) Summary() Summary         { return Summary(r >> 21 & 0x3F) }
func (r ResultCode) Level() Level             { return Level(r >> 27 & 0x1F) }

// IsSuccess reports whether r is ResultSuccess. Every other value, whatever
// its level, is a failure.
func (r ResultCode) IsSuccess() bool { return r == ResultSuccess }

// IsError is the negation of IsSuccess.
func (r ResultCode) IsError() bool { return !r.IsSuccess() }

func (r ResultCode) String() string {
	if r == ResultSuccess {
		return "success"
	}
	return fmt.Sprintf("0x%08X (desc=%d module=%d summary=%d level=%d)",
		uint32(r), r.Description(), r.Module(), r.Summary(), r.Level())
}

// Result codes produced by the IPC layer itself.
var (
	ResultSizeMismatch         = MakeResult(DescriptionInvalidSize, ModuleOS, SummaryInvalidArgument, LevelUsage)
	ResultBufferOverrun        = MakeResult(DescriptionTooLarge, ModuleOS, SummaryInvalidArgument, LevelUsage)
	ResultUnimplementedCommand = MakeResult(DescriptionNotImplemented, ModuleOS, SummaryNotSupported, LevelPermanent)
	ResultInvalidSessionState  = MakeResult(DescriptionInvalidHandle, ModuleKernel, SummaryInvalidState, LevelPermanent)
	ResultServiceNotFound      = MakeResult(DescriptionNotFound, ModuleSRV, SummaryNotFound, LevelPermanent)
	ResultInvalidGuestAddress  = MakeResult(DescriptionInvalidAddress, ModuleOS, SummaryInvalidArgument, LevelUsage)
	ResultBadDescriptor        = MakeResult(DescriptionInvalidCombination, ModuleOS, SummaryInvalidArgument, LevelUsage)
	ResultBufferPermission     = MakeResult(DescriptionNotAuthorized, ModuleOS, SummaryWrongArgument, LevelUsage)
	ResultSessionLimit         = MakeResult(DescriptionOutOfRange, ModuleSRV, SummaryOutOfResource, LevelPermanent)
	ResultInternal             = MakeResult(DescriptionInvalidResultValue, ModuleOS, SummaryInternal, LevelFatal)
)
