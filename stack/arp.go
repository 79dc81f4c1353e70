package stack

// arpState mirrors the original's UNUSED/used slot discipline.
type arpState int

const (
	arpUnused arpState = iota
	arpUsed
)

type arpEntry struct {
	state arpState
	ip    uint32
	mac   [6]byte
}

// ArpCache is a fixed-size (IP->MAC) map with oldest-slot replacement
// (spec. §3 "ArpCache", §4.3).
type ArpCache struct {
	entries    [ArpTableSize]arpEntry
	olderIndex int // next slot to evict when no Unused slot remains
}

// OlderIndex exposes the current eviction cursor, used by S5-style tests.
func (c *ArpCache) OlderIndex() int { return c.olderIndex }

// lookup returns the MAC for ip. On a true miss against the local subnet
// broadcast address, it synthesizes the broadcast MAC and reports success;
// any other miss reports found=false (spec. §4.3 "Lookup").
func (c *ArpCache) lookup(ip uint32, mask uint32) (mac [6]byte, found bool) {
	for i := range c.entries {
		if c.entries[i].state != arpUnused && c.entries[i].ip == ip {
			return c.entries[i].mac, true
		}
	}
	if ip&^mask == 0xFFFFFFFF&^mask {
		return broadcastMAC, true
	}
	return [6]byte{}, false
}

// update inserts or refreshes an (ip, mac) pair. Broadcast MACs are never
// cached (spec. §3). The scan order is: existing IP in place, then first
// Unused slot, then the oldest-index slot, advancing the cursor modulo
// size (spec. §4.3 "Insert/update").
func (c *ArpCache) update(ip uint32, mac [6]byte) {
	if isBroadcastMAC(mac) {
		return
	}
	for i := range c.entries {
		if c.entries[i].state != arpUnused && c.entries[i].ip == ip {
			c.entries[i].mac = mac
			return
		}
	}
	for i := range c.entries {
		if c.entries[i].state == arpUnused {
			c.entries[i] = arpEntry{state: arpUsed, ip: ip, mac: mac}
			return
		}
	}
	c.entries[c.olderIndex] = arpEntry{state: arpUsed, ip: ip, mac: mac}
	c.olderIndex = (c.olderIndex + 1) % ArpTableSize
}

// route selects the next-hop IP for a destination, given an optional
// gateway and the adapter's netmask (spec. §4.3 "Route selection").
func route(dstIP, gateway, mask uint32) uint32 {
	if gateway == 0 || (dstIP&mask) == (gateway&mask) || dstIP == 0xFFFFFFFF {
		return dstIP
	}
	return gateway
}

// resolve looks up the MAC to use for reaching dstIP via the adapter's
// identity and route. On a cache miss that isn't the subnet broadcast, it
// returns CodeMacAddrUnknown; the caller is expected to have already
// emitted (or to now emit) an ARP request.
func (a *Adapter) resolve(dstIP uint32) ([6]byte, error) {
	hop := route(dstIP, a.cfg.Gateway, a.cfg.Netmask)
	mac, found := a.arp.lookup(hop, a.cfg.Netmask)
	if found {
		return mac, nil
	}
	return [6]byte{}, newStackErrorf(CodeMacAddrUnknown, a.cfg.Name, "", "resolve", "no ARP entry for %s", ipString(hop))
}

// handleARP processes an inbound ARP frame: responds to requests targeting
// our IP, and learns the sender's mapping from both requests and replies
// (spec. §4.3 "Parse").
func (a *Adapter) handleARP(payload []byte) {
	if len(payload) < arpPacketLen {
		return
	}
	hwType := beUint16(payload[0:2])
	protoType := beUint16(payload[2:4])
	if hwType != arpHTypeEthernet || protoType != arpPTypeIPv4 || payload[4] != 6 || payload[5] != 4 {
		return
	}
	op := beUint16(payload[6:8])
	var senderMAC [6]byte
	copy(senderMAC[:], payload[8:14])
	senderIP := beUint32(payload[14:18])
	targetIP := beUint32(payload[24:28])

	switch op {
	case arpOpRequest:
		if targetIP != a.cfg.IP {
			return
		}
		a.arp.update(senderIP, senderMAC)
		a.sendARPReply(senderMAC, senderIP)
	case arpOpReply:
		if targetIP != a.cfg.IP {
			return
		}
		a.arp.update(senderIP, senderMAC)
	}
}

func (a *Adapter) sendARPReply(dstMAC [6]byte, dstIP uint32) {
	frame := a.scratch[:]
	n := ethBuildFrame(frame, dstMAC, a.cfg.MAC, dstIP, a.cfg.IP, frameArpReply)
	a.trace(frame[:n])
	if err := a.driver.Send(frame[:n]); err != nil && Debug {
		a.log.Warn("arp: send reply failed", "err", err)
	}
}

// sendARPRequest broadcasts a request for targetIP, used by resolve()
// callers that want to kick off resolution (spec. §4.5 "ping" composes
// one this way, and TCP connect()/UDP connect() do the same).
func (a *Adapter) sendARPRequest(targetIP uint32) error {
	frame := a.scratch[:]
	n := ethBuildFrame(frame, broadcastMAC, a.cfg.MAC, targetIP, a.cfg.IP, frameArpRequest)
	a.trace(frame[:n])
	return a.driver.Send(frame[:n])
}
