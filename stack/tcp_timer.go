package stack

// TCPTick drives every owned TCP controller through one 500ms timer step
// (spec. §4.7.2 "Timer events"). The caller is expected to invoke this once
// per TCPTimerPeriod tick from the same thread as Dispatch (spec. §5
// "Timer ticks").
func (a *Adapter) TCPTick() {
	for i := range a.tcp {
		c := &a.tcp[i]
		if c.slot == tcpSlotUnused {
			continue
		}
		a.tcpTickOne(c)
	}
}

func (a *Adapter) tcpTickOne(c *TcpController) {
	switch c.state {
	case tcpClosed:
		// item 5: invoke the connect callback of a Persistent controller
		// that once connected (e.g. after a peer-initiated close) so the
		// application can reconnect; the stack itself sends nothing.
		if c.slot == tcpSlotPersistent && c.onConnect != nil {
			c.onConnect(c, nil)
		}
		return
	case tcpListen:
		return
	}

	a.tcpTickRetransmission(c)

	switch c.state {
	case tcpFinWait1, tcpFinWait2, tcpClosing:
		c.stateTicks++
		if c.stateTicks >= tcpFinWaitTicks {
			c.state = tcpTimeWait
			c.stateTicks = 0
		}
	case tcpTimeWait, tcpLastAck:
		c.stateTicks++
		if c.stateTicks >= tcpFinWaitTicks {
			a.tcpFinishClosed(c, nil)
			return
		}
	case tcpSynRcvd:
		c.stateTicks++
		if c.stateTicks >= tcpSynRcvdTicks {
			a.tcpSendControl(c, tcpFlagRST|tcpFlagACK)
			a.tcpFinishClosed(c, Sentinel(CodeRst))
			return
		}
	case tcpEstablished:
		if c.nbOf500ms > 0 {
			c.counterOf500ms++
			if c.counterOf500ms >= c.nbOf500ms {
				c.counterOf500ms = 0
				shouldClose := true
				if c.onPeriodicCheck != nil {
					shouldClose = c.onPeriodicCheck(c)
				}
				if shouldClose {
					a.TCPClose(c)
				}
			}
		}
	}
}

// tcpTickRetransmission implements items 1-2 of spec. §4.7.2: age the head
// Unacked segment (it is not resent) and, once its age exceeds
// tcpRetransmissionTicks, send RST and close; or — if nothing is Unacked
// but something is Unsent — promote it. This is the behavior
// spec. §9's "Open question — duplicate retransmission branch" flags: only
// the head segment is aged here, matching the source; a port that found
// tails stalling under partial ACKs would need to widen this to every
// Unacked segment.
func (a *Adapter) tcpTickRetransmission(c *TcpController) {
	head := c.headUnacked()
	if head != nil {
		if head.skipNextAge {
			head.skipNextAge = false
			return
		}
		head.retransmitTicks++
		if head.retransmitTicks > tcpRetransmissionTicks {
			a.tcpSendControl(c, tcpFlagRST|tcpFlagACK)
			a.tcpFinishClosed(c, Sentinel(CodeRst))
		}
		return
	}
	if unsent := c.firstUnsent(); unsent != nil {
		a.tcpTransmitNext(c)
	}
}
