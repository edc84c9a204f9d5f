package demo

import (
	"bytes"
	"fmt"

	"newtcore/newtos/kernel"
	"newtcore/newtos/proto"
)

const msgSize = 64

// ping sends numbered RPC requests to a port and checks each reply.
type ping struct {
	port   kernel.ObjectID
	rounds int

	state int
	call  pending
	msg   kernel.ObjectID
	reply kernel.ObjectID
	seq   int
	buf   [msgSize]byte
}

func (p *ping) Step(c *kernel.TaskContext) {
	for {
		switch p.state {
		case 0, 1:
			req := proto.ObjectRequest(proto.CreateSharedMemMsg{Size: msgSize, Perms: proto.PermReadWrite})
			if p.state == 1 {
				req = proto.CreateSharedMem{Size: msgSize, Perms: proto.PermReadWrite}
			}
			err, ok := p.call.do(c, func() proto.Err { return c.Object(req) })
			if !ok {
				return
			}
			if err != proto.NoErr {
				c.Printf("create: %s", err)
				c.Exit(err)
				return
			}
			if p.state == 0 {
				p.msg = c.ObjectReply().ID
			} else {
				p.reply = c.ObjectReply().ID
			}
			p.state++
		case 2:
			if p.seq == p.rounds {
				c.Printf("done after %d round trips", p.seq)
				c.Exit(proto.NoErr)
				return
			}
			payload := []byte(fmt.Sprintf("ping %d", p.seq))
			err, ok := p.call.do(c, func() proto.Err { return c.CopyTo(p.msg, 0, payload) })
			if !ok {
				return
			}
			if err != proto.NoErr {
				c.Exit(err)
				return
			}
			p.state = 3
		case 3:
			err, ok := p.call.do(c, func() proto.Err {
				return c.Send(p.port, p.msg, kernel.SendOpts{Type: 1, Flags: proto.PortRPC, ReplyMem: p.reply})
			})
			if !ok {
				return
			}
			if err != proto.NoErr {
				c.Printf("send: %s", err)
				c.Exit(err)
				return
			}
			p.state = 4
		case 4:
			size, _, err := c.GetSize(p.reply)
			if err != proto.NoErr {
				c.Exit(err)
				return
			}
			n := min(int(size), len(p.buf))
			err, ok := p.call.do(c, func() proto.Err { return c.CopyFrom(p.reply, 0, p.buf[:n]) })
			if !ok {
				return
			}
			if err != proto.NoErr {
				c.Exit(err)
				return
			}
			c.Printf("reply %q", bytes.TrimRight(p.buf[:n], "\x00"))
			p.seq++
			p.state = 2
		}
	}
}

// pong answers every request on a port with "pong: <request>".
type pong struct {
	port kernel.ObjectID

	state  int
	call   pending
	msg    kernel.ObjectID
	reply  kernel.ObjectID
	sender kernel.ObjectID
	size   uint32
	buf    [msgSize]byte
}

func (p *pong) Step(c *kernel.TaskContext) {
	for {
		switch p.state {
		case 0, 1:
			req := proto.ObjectRequest(proto.CreateSharedMemMsg{Size: msgSize, Perms: proto.PermReadWrite})
			if p.state == 1 {
				req = proto.CreateSharedMem{Size: msgSize, Perms: proto.PermReadWrite}
			}
			err, ok := p.call.do(c, func() proto.Err { return c.Object(req) })
			if !ok {
				return
			}
			if err != proto.NoErr {
				c.Exit(err)
				return
			}
			if p.state == 0 {
				p.msg = c.ObjectReply().ID
			} else {
				p.reply = c.ObjectReply().ID
			}
			p.state++
		case 2:
			err, ok := p.call.do(c, func() proto.Err {
				return c.Receive(p.port, p.msg, kernel.ReceiveOpts{Filter: proto.MatchAll})
			})
			if !ok {
				return
			}
			if err != proto.NoErr && err != proto.ErrCopyTruncated {
				c.Printf("receive: %s", err)
				c.Exit(err)
				return
			}
			size, _, sender := c.Values()
			p.size = min(size, msgSize)
			p.sender = kernel.ObjectID(sender)
			p.state = 3
		case 3:
			err, ok := p.call.do(c, func() proto.Err { return c.CopyFrom(p.msg, 0, p.buf[:p.size]) })
			if !ok {
				return
			}
			if err != proto.NoErr {
				c.Exit(err)
				return
			}
			p.state = 4
		case 4:
			out := append([]byte("pong: "), bytes.TrimRight(p.buf[:p.size], "\x00")...)
			err, ok := p.call.do(c, func() proto.Err { return c.CopyTo(p.reply, 0, out) })
			if !ok {
				return
			}
			if err == proto.NoErr {
				err = c.Reply(p.sender, p.reply, proto.NoErr)
			}
			if err != proto.NoErr {
				c.Printf("reply: %s", err)
			}
			p.state = 2
		}
	}
}

// producer fills slots guarded by a two-semaphore group.
type producer struct {
	group, take, give kernel.ObjectID
	items             int

	done int
	call pending
}

func (p *producer) Step(c *kernel.TaskContext) {
	for p.done < p.items {
		err, ok := p.call.do(c, func() proto.Err { return c.SemOp(p.group, p.take, true) })
		if !ok {
			return
		}
		if err == proto.NoErr {
			err = c.SemOp(p.group, p.give, false)
		}
		if err != proto.NoErr {
			c.Printf("semop: %s", err)
			c.Exit(err)
			return
		}
		p.done++
		c.Printf("produced %d", p.done)
	}
	c.Exit(proto.NoErr)
}

// consumer drains the slots the producer fills.
type consumer struct {
	group, take, give kernel.ObjectID
	items             int

	done int
	call pending
}

func (p *consumer) Step(c *kernel.TaskContext) {
	for p.done < p.items {
		err, ok := p.call.do(c, func() proto.Err { return c.SemOp(p.group, p.take, true) })
		if !ok {
			return
		}
		if err == proto.NoErr {
			err = c.SemOp(p.group, p.give, false)
		}
		if err != proto.NoErr {
			c.Printf("semop: %s", err)
			c.Exit(err)
			return
		}
		p.done++
		c.Printf("consumed %d", p.done)
	}
	c.Exit(proto.NoErr)
}

// grower pushes its stack pointer down a kilobyte at a time and writes a
// marker at each new frame, faulting pages in as it goes.
type grower struct {
	depth uint32

	sp     uint32
	frames int
}

func (g *grower) Step(c *kernel.TaskContext) {
	_, top := c.StackRange()
	if g.sp == 0 {
		g.sp = top
	}
	for top-g.sp < g.depth {
		sp := g.sp - 1024
		marker := []byte(fmt.Sprintf("frame%03d", g.frames))
		switch err := c.Store(sp, marker); err {
		case proto.NoErr:
		case proto.Suspended:
			return
		default:
			c.Printf("store at %#x: %s", sp, err)
			c.Exit(err)
			return
		}
		g.sp = sp
		g.frames++
		c.SetSP(sp)
	}
	check := make([]byte, 8)
	switch err := c.Load(g.sp, check); err {
	case proto.NoErr:
	case proto.Suspended:
		return
	default:
		c.Exit(err)
		return
	}
	c.Printf("grew %d frames to sp=%#x, last %q", g.frames, g.sp, check)
	c.Exit(proto.NoErr)
}

// sleeper wakes periodically and logs the time.
type sleeper struct {
	period kernel.Time
	wakes  int

	woken int
	call  pending
}

func (s *sleeper) Step(c *kernel.TaskContext) {
	for s.woken < s.wakes {
		err, ok := s.call.do(c, func() proto.Err { return c.Delay(s.period) })
		if !ok {
			return
		}
		if err != proto.NoErr {
			c.Exit(err)
			return
		}
		s.woken++
		c.Printf("woke at %s", c.Now())
	}
	c.Exit(proto.NoErr)
}
