package stackmgr

import "newtcore/newtos/proto"

// Handle serves one stack-manager monitor request.
func (m *Manager) Handle(req proto.SMRequest) proto.SMReply {
	if req == nil {
		return proto.SMReply{Err: proto.ErrBadMessage}
	}
	if err := req.Validate(); err != proto.NoErr {
		return proto.SMReply{Err: err}
	}
	switch r := req.(type) {
	case proto.NewStack:
		si, err := m.NewStack(r)
		if err != proto.NoErr {
			return proto.SMReply{Err: err}
		}
		return proto.SMReply{Start: si.start, End: si.end}
	case proto.NewHeapArea:
		si, err := m.NewHeapArea(r)
		if err != proto.NoErr {
			return proto.SMReply{Err: err}
		}
		return proto.SMReply{Start: si.start, End: si.end}
	case proto.SetHeapLimits:
		return proto.SMReply{Err: m.SetHeapLimits(r)}
	case proto.FreePagedMem:
		n, err := m.FreePagedMem(r)
		return proto.SMReply{Err: err, Count: uint32(n)}
	case proto.LockHeapRange:
		return proto.SMReply{Err: m.LockHeapRange(r.Start, r.End)}
	case proto.UnlockHeapRange:
		return proto.SMReply{Err: m.UnlockHeapRange(r.Start, r.End)}
	case proto.NewHeapDomain:
		d, err := m.NewHeapDomain(r.Domain, r.Base, r.Size, r.RegionSize)
		if err != proto.NoErr {
			return proto.SMReply{Err: err}
		}
		return proto.SMReply{Start: d.base, End: d.base + d.size, Count: uint32(len(d.regions))}
	case proto.AddPageMappingToDomain:
		return proto.SMReply{Err: m.AddPageMappingToDomain(r)}
	case proto.SetRemoveRoutine:
		return proto.SMReply{Err: m.SetRemoveRoutine(r.Area, r.Routine)}
	case proto.GetHeapAreaInfo:
		info, err := m.GetHeapAreaInfo(r.Area)
		return proto.SMReply{Err: err, Info: info, Start: info.Start, End: info.End}
	case proto.GetSystemReleaseable:
		return proto.SMReply{Count: m.GetSystemReleaseable()}
	case proto.DisposeStack:
		return proto.SMReply{Err: m.DisposeStack(r.Area)}
	default:
		return proto.SMReply{Err: proto.ErrUnknownOpcode}
	}
}
