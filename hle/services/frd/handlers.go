package frd

import (
	"ctrhle/hal"
	"ctrhle/hle/ipc"
	"ctrhle/kernel"
)

func (m *Module) table() kernel.HandlerTable {
	return kernel.HandlerTable{
		0x01: {Name: "HasLoggedIn", Func: m.hasLoggedIn},
		0x02: {Name: "IsOnline", Func: m.isOnline},
		0x03: {Name: "Login", Translate: 2, Func: m.login},
		0x04: {Name: "Logout", Func: m.logout},
		0x05: {Name: "GetMyFriendKey", Func: m.getMyFriendKey},
		0x06: {Name: "GetMyPreference", Func: m.getMyPreference},
		0x07: {Name: "GetMyProfile", Func: m.getMyProfile},
		0x08: {Name: "GetMyPresence", Func: m.getMyPresence},
		0x09: {Name: "GetMyScreenName", Func: m.getMyScreenName},
		0x0A: {Name: "GetMyMii", Func: m.getMyMii},
		0x0B: {Name: "GetMyLocalAccountId"},
		0x0C: {Name: "GetMyPlayingGame", Func: m.getMyPlayingGame},
		0x0D: {Name: "GetMyFavoriteGame", Func: m.getMyFavoriteGame},
		0x0E: {Name: "GetMyNcPrincipalId"},
		0x0F: {Name: "GetMyComment", Func: m.getMyComment},
		0x10: {Name: "GetMyPassword"},
		0x11: {Name: "GetFriendKeyList", Normal: 2, Func: m.getFriendKeyList},
		0x12: {Name: "GetFriendPresence"},
		0x13: {Name: "GetFriendScreenName"},
		0x14: {Name: "GetFriendMii"},
		0x15: {Name: "GetFriendProfile", Normal: 1, Translate: 2, Func: m.getFriendProfile},
		0x16: {Name: "GetFriendRelationship"},
		0x17: {Name: "GetFriendAttributeFlags", Normal: 1, Translate: 2, Func: m.getFriendAttributeFlags},
		0x18: {Name: "GetFriendPlayingGame"},
		0x19: {Name: "GetFriendFavoriteGame"},
		0x1A: {Name: "GetFriendInfo"},
		0x1B: {Name: "IsIncludedInFriendList"},
		0x1C: {Name: "UnscrambleLocalFriendCode", Normal: 1, Translate: 2, Func: m.unscrambleLocalFriendCode},
		0x26: {Name: "IsValidFriendCode", Normal: 2, Func: m.isValidFriendCode},
		0x32: {Name: "SetClientSdkVersion", Normal: 1, Translate: 2, Func: m.setClientSdkVersion},
	}
}

func (m *Module) hasLoggedIn(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(m.LoggedIn())
	return nil
}

func (m *Module) isOnline(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(m.LoggedIn())
	return nil
}

func (m *Module) login(ctx *kernel.Context) error {
	m.mu.Lock()
	m.loggedIn = true
	m.mu.Unlock()
	ctx.Respond(ipc.ResultSuccess)
	ctx.Stub()
	return nil
}

func (m *Module) logout(ctx *kernel.Context) error {
	m.mu.Lock()
	m.loggedIn = false
	m.mu.Unlock()
	ctx.Respond(ipc.ResultSuccess)
	ctx.Stub()
	return nil
}

func (m *Module) getMyFriendKey(ctx *kernel.Context) error {
	m.mu.Lock()
	k := m.myKey
	m.mu.Unlock()

	rb := ctx.MakeBuilder(5, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU32(k.FriendID)
	rb.PushU32(k.Unknown)
	rb.PushU64(k.FriendCode)
	return nil
}

func (m *Module) getMyPreference(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(4, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU8(1) // public mode
	rb.PushU8(1) // show game name
	rb.PushU8(1) // show played game
	ctx.Stub()
	return nil
}

func (m *Module) getMyProfile(ctx *kernel.Context) error {
	m.mu.Lock()
	w0, w1 := m.profile.words()
	m.mu.Unlock()

	rb := ctx.MakeBuilder(3, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushRaw(w0, w1)
	return nil
}

func (m *Module) getMyPresence(ctx *kernel.Context) error {
	rp := ctx.Parser()
	out, err := rp.PeekStaticBuffer(0)
	if err != nil {
		return err
	}
	if err := out.Expect(PresenceSize, 1); err != nil {
		return err
	}
	m.mu.Lock()
	presence := m.presence
	m.mu.Unlock()
	if err := rp.WriteStatic(out, 0, presence[:]); err != nil {
		return err
	}

	rb := ctx.MakeBuilder(1, 2)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushStaticBuffer(out.Address, out.Size, 0)
	ctx.Stub()
	return nil
}

// getMyScreenName returns the configured username as UTF-16.
func (m *Module) getMyScreenName(ctx *kernel.Context) error {
	name := m.settings.Get().Username
	rb := ctx.MakeBuilder(7, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushRaw(packUTF16(name, screenNameUnits, 6)...)
	return nil
}

func (m *Module) getMyMii(ctx *kernel.Context) error {
	m.mu.Lock()
	mii := m.mii
	m.mu.Unlock()

	rb := ctx.MakeBuilder(25, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushRaw(packBytes(mii[:])...)
	return nil
}

func (m *Module) getMyPlayingGame(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(5, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU32(0)
	rb.PushU32(0)
	rb.PushU16(0)
	rb.PushU32(0)
	ctx.Stub()
	return nil
}

func (m *Module) getMyFavoriteGame(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(3, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU32(0)
	rb.PushU32(0)
	ctx.Stub()
	return nil
}

func (m *Module) getMyComment(ctx *kernel.Context) error {
	rb := ctx.MakeBuilder(18, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushRaw(packUTF16(defaultComment, commentUnits, 17)...)
	ctx.Stub()
	return nil
}

func (m *Module) getFriendKeyList(ctx *kernel.Context) error {
	rp := ctx.Parser()
	offset := rp.PopU32()
	count := rp.PopU32()
	if err := rp.Err(); err != nil {
		return err
	}
	out, err := rp.PeekStaticBuffer(0)
	if err != nil {
		return err
	}
	if err := out.Expect(friendKeySize, count); err != nil {
		return err
	}

	m.mu.Lock()
	var keys []FriendKey
	if int(offset) < len(m.friends) {
		keys = m.friends[offset:]
		if uint32(len(keys)) > count {
			keys = keys[:count]
		}
		keys = append([]FriendKey(nil), keys...)
	}
	m.mu.Unlock()

	buf := make([]byte, len(keys)*friendKeySize)
	for i, k := range keys {
		k.encode(buf[i*friendKeySize:])
	}
	if len(buf) > 0 {
		if err := rp.WriteStatic(out, 0, buf); err != nil {
			return err
		}
	}

	rb := ctx.MakeBuilder(2, 2)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushU32(uint32(len(keys)))
	rb.PushStaticBuffer(out.Address, out.Size, 0)
	ctx.Logf(hal.LevelWarning, "(STUBBED) called, offset=%d, frd_count=%d, frd_key_addr=0x%08X",
		offset, count, uint32(out.Address))
	return nil
}

// zeroFill checks a request of count friend keys against an output static
// buffer of elemSize per entry and clears it.
func (m *Module) zeroFill(ctx *kernel.Context, elemSize uint32) error {
	rp := ctx.Parser()
	count := rp.PopU32()
	keys := rp.PopStaticBuffer()
	if err := rp.Err(); err != nil {
		return err
	}
	if err := keys.Expect(friendKeySize, count); err != nil {
		return err
	}
	out, err := rp.PeekStaticBuffer(0)
	if err != nil {
		return err
	}
	if err := out.Expect(elemSize, count); err != nil {
		return err
	}
	if err := rp.WriteStatic(out, 0, make([]byte, out.Size)); err != nil {
		return err
	}

	rb := ctx.MakeBuilder(1, 2)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushStaticBuffer(out.Address, out.Size, 0)
	ctx.Logf(hal.LevelWarning, "(STUBBED) called, count=%d, frd_key_addr=0x%08X, out_addr=0x%08X",
		count, uint32(keys.Address), uint32(out.Address))
	return nil
}

func (m *Module) getFriendProfile(ctx *kernel.Context) error {
	return m.zeroFill(ctx, profileSize)
}

func (m *Module) getFriendAttributeFlags(ctx *kernel.Context) error {
	return m.zeroFill(ctx, attributeFlagsWidth)
}

// unscrambleLocalFriendCode writes the friend code of every scrambled entry
// that belongs to a friend, and zero for the rest.
func (m *Module) unscrambleLocalFriendCode(ctx *kernel.Context) error {
	rp := ctx.Parser()
	count := rp.PopU32()
	in := rp.PopStaticBuffer()
	if err := rp.Err(); err != nil {
		return err
	}
	if err := in.Expect(scrambledCodeSize, count); err != nil {
		return err
	}
	out, err := rp.PeekStaticBuffer(0)
	if err != nil {
		return err
	}
	if err := out.Expect(friendCodeSize, count); err != nil {
		return err
	}

	scrambled := make([]byte, in.Size)
	if err := rp.ReadStatic(in, 0, scrambled); err != nil {
		return err
	}
	m.mu.Lock()
	known := make(map[uint64]bool, len(m.friends))
	for _, f := range m.friends {
		known[f.FriendCode] = true
	}
	m.mu.Unlock()

	codes := make([]byte, out.Size)
	for i := uint32(0); i < count; i++ {
		code := unscramble(scrambled[i*scrambledCodeSize:])
		if !known[code] {
			code = 0
		}
		for j := 0; j < friendCodeSize; j++ {
			codes[i*friendCodeSize+uint32(j)] = byte(code >> (8 * j))
		}
	}
	if err := rp.WriteStatic(out, 0, codes); err != nil {
		return err
	}

	rb := ctx.MakeBuilder(1, 2)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushStaticBuffer(out.Address, out.Size, 0)
	return nil
}

func (m *Module) isValidFriendCode(ctx *kernel.Context) error {
	rp := ctx.Parser()
	_ = rp.PopU64()
	if err := rp.Err(); err != nil {
		return err
	}
	rb := ctx.MakeBuilder(2, 0)
	rb.PushResult(ipc.ResultSuccess)
	rb.PushBool(true)
	ctx.Stub()
	return nil
}

func (m *Module) setClientSdkVersion(ctx *kernel.Context) error {
	rp := ctx.Parser()
	version := rp.PopU32()
	if err := rp.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sdkVersions[ctx.Session().Service()] = version
	m.mu.Unlock()

	ctx.Respond(ipc.ResultSuccess)
	ctx.Logf(hal.LevelDebug, "version 0x%08X", version)
	return nil
}
