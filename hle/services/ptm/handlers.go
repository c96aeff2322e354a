package ptm

import (
	"ctrhle/hal"
	"ctrhle/hle/ipc"
	"ctrhle/kernel"
)

func (m *Module) commonTable() kernel.HandlerTable {
	return kernel.HandlerTable{
		0x1: {Name: "RegisterAlarmClient"},
		0x2: {Name: "SetRtcAlarm"},
		0x3: {Name: "GetRtcAlarm"},
		0x4: {Name: "CancelRtcAlarm"},
		0x5: {Name: "GetAdapterState", Func: m.getAdapterState},
		0x6: {Name: "GetShellState", Func: m.getShellState},
		0x7: {Name: "GetBatteryLevel", Func: m.getBatteryLevel},
		0x8: {Name: "GetBatteryChargeState", Func: m.getBatteryChargeState},
		0x9: {Name: "GetPedometerState", Func: m.getPedometerState},
		0xA: {Name: "GetStepHistoryEntry"},
		0xB: {Name: "GetStepHistory", Normal: 3, Translate: 2, Func: m.getStepHistory},
		0xC: {Name: "GetTotalStepCount", Func: m.getTotalStepCount},
		0xD: {Name: "SetPedometerRecordingMode"},
		0xE: {Name: "GetStepHistoryAll"},
	}
}

func (m *Module) getsTable() kernel.HandlerTable {
	return kernel.HandlerTable{
		0x401: {Name: "GetSystemTime", Func: m.getSystemTime},
	}
}

func playTable() kernel.HandlerTable {
	return kernel.HandlerTable{
		0x807: {Name: "GetPlayHistory"},
		0x808: {Name: "GetPlayHistoryStart"},
		0x809: {Name: "GetPlayHistoryLength"},
		0x80B: {Name: "CalcPlayHistoryStart"},
	}
}

func setsTable() kernel.HandlerTable {
	return kernel.HandlerTable{
		0x1: {Name: "SetSystemTime"},
	}
}

func (m *Module) sysmTable() kernel.HandlerTable {
	return kernel.HandlerTable{
		0x401: {Name: "GetSystemTime", Func: m.getSystemTime},
		0x40A: {Name: "CheckNew3DS", Func: m.checkNew3DS},
		0x80F: {Name: "GetSoftwareClosedFlag", Func: m.getSoftwareClosedFlag},
		0x818: {Name: "ConfigureNew3DSCPU", Normal: 1, Func: m.configureNew3DSCPU},
	}
}

func (m *Module) getAdapterState(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(m.settings.Get().AdapterConnected)
	return nil
}

func (m *Module) getShellState(ctx *kernel.Context) error {
	m.mu.Lock()
	open := m.shellOpen
	m.mu.Unlock()

	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(open)
	return nil
}

func (m *Module) getBatteryLevel(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU8(m.settings.Get().BatteryLevel)
	return nil
}

func (m *Module) getBatteryChargeState(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(m.settings.Get().BatteryCharging)
	return nil
}

func (m *Module) getPedometerState(ctx *kernel.Context) error {
	m.mu.Lock()
	counting := m.pedometerCounting
	m.mu.Unlock()

	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(counting)
	ctx.Stub()
	return nil
}

// getStepHistory reports zero steps for every requested hour.
func (m *Module) getStepHistory(ctx *kernel.Context) error {
	rp := ctx.Parser()
	hours := rp.PopU32()
	start := rp.PopU64()
	buf := rp.PopMappedBuffer()
	if err := rp.Err(); err != nil {
		return err
	}
	if err := buf.Expect(2, hours); err != nil {
		return err
	}
	if err := buf.Fill(0); err != nil {
		return err
	}

	rb := ctx.MakeBuilder(1, 2)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushMappedBuffer(buf)
	ctx.Logf(hal.LevelWarning, "(STUBBED) called, from time(raw): 0x%x, for %d hours", start, hours)
	return nil
}

func (m *Module) getTotalStepCount(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU32(0)
	ctx.Stub()
	return nil
}

// getSystemTime returns the shared page time in milliseconds since 1900.
func (m *Module) getSystemTime(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(3, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU64(m.page.DateTime().Millis)
	return nil
}

func (m *Module) getSoftwareClosedFlag(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(false)
	ctx.Stub()
	return nil
}

// IsNew3DSModel reports whether a system model id is a New 3DS/2DS.
func IsNew3DSModel(model uint8) bool {
	switch model {
	case 2, 4, 5:
		return true
	default:
		return false
	}
}

func (m *Module) checkNew3DS(ctx *kernel.Context) error {
	isNew := IsNew3DSModel(m.settings.Get().SystemModel)
	if isNew {
		ctx.Logf(hal.LevelCritical, "the selected system model is New 3DS/2DS, which is not fully supported")
	}

	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(isNew)
	ctx.Logf(hal.LevelWarning, "(STUBBED) called isNew3DS = 0x%08x", b2u(isNew))
	return nil
}

func (m *Module) configureNew3DSCPU(ctx *kernel.Context) error {
	rp := ctx.Parser()
	value := rp.PopU8() & 0xF
	if err := rp.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.new3DSCPUConfig = value
	m.mu.Unlock()

	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU32(uint32(value))
	ctx.Stub()
	return nil
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
