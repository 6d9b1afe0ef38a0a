package shmcache

// page.go implements the on-file page layout: a 32-byte header, a slot
// directory of 32-bit offsets, and a heap of inline key/value records. See
// spec.md §3 for the exact field layout and invariants I1-I5.
//
// All access to the mapped bytes goes through pageView / entryView so that
// bounds are checked once, at lock time (validate), and every subsequent
// field access is a plain, already-proven-safe slice index. This mirrors the
// "typed view over the mapped byte region" design note: one accessor per
// header field, one accessor per entry field, everything else gated by the
// invariant check performed when the page is locked.

import "encoding/binary"

const (
	pageMagic = uint32(0x92F7E3B1)

	headerSize = 32 // fixed, per spec.md §3

	hdrOffMagic       = 0
	hdrOffNumSlots    = 4
	hdrOffFreeSlots   = 8
	hdrOffOldSlots    = 12
	hdrOffFreeData    = 16
	hdrOffFreeBytes   = 20

	slotEmpty     = uint32(0)
	slotTombstone = uint32(1)

	entryFixedSize = 24 // last_access, expire_time, slot_hash, flags, key_len, value_len

	entOffLastAccess = 0
	entOffExpireTime = 4
	entOffSlotHash   = 8
	entOffFlags      = 12
	entOffKeyLen     = 16
	entOffValueLen   = 20
	entOffPayload    = 24

	// FlagDirty marks a value written under write-back policy that has
	// not yet been flushed to the embedder's backing store.
	FlagDirty = uint32(1)

	minNumSlots = 89 // I5
)

var byteOrder = binary.LittleEndian

// align4 rounds n up to the next multiple of 4.
func align4(n uint32) uint32 { return (n + 3) &^ 3 }

// pageView is a thin, bounds-checked window over one page's bytes within the
// mapped region. It never copies; all reads/writes touch the mmap directly.
type pageView struct {
	buf []byte // exactly pageSize bytes
}

func newPageView(buf []byte) pageView { return pageView{buf: buf} }

func (p pageView) magic() uint32     { return byteOrder.Uint32(p.buf[hdrOffMagic:]) }
func (p pageView) numSlots() uint32  { return byteOrder.Uint32(p.buf[hdrOffNumSlots:]) }
func (p pageView) freeSlots() uint32 { return byteOrder.Uint32(p.buf[hdrOffFreeSlots:]) }
func (p pageView) oldSlots() uint32  { return byteOrder.Uint32(p.buf[hdrOffOldSlots:]) }
func (p pageView) freeData() uint32  { return byteOrder.Uint32(p.buf[hdrOffFreeData:]) }
func (p pageView) freeBytes() uint32 { return byteOrder.Uint32(p.buf[hdrOffFreeBytes:]) }

func (p pageView) setMagic(v uint32)     { byteOrder.PutUint32(p.buf[hdrOffMagic:], v) }
func (p pageView) setNumSlots(v uint32)  { byteOrder.PutUint32(p.buf[hdrOffNumSlots:], v) }
func (p pageView) setFreeSlots(v uint32) { byteOrder.PutUint32(p.buf[hdrOffFreeSlots:], v) }
func (p pageView) setOldSlots(v uint32)  { byteOrder.PutUint32(p.buf[hdrOffOldSlots:], v) }
func (p pageView) setFreeData(v uint32)  { byteOrder.PutUint32(p.buf[hdrOffFreeData:], v) }
func (p pageView) setFreeBytes(v uint32) { byteOrder.PutUint32(p.buf[hdrOffFreeBytes:], v) }

// slotDirOffset is the byte offset where the slot directory begins: right
// after the fixed header.
func (p pageView) slotDirOffset() uint32 { return headerSize }

// slotAt returns the raw directory entry at logical slot index i.
func (p pageView) slotAt(i uint32) uint32 {
	off := p.slotDirOffset() + i*4
	return byteOrder.Uint32(p.buf[off:])
}

func (p pageView) setSlotAt(i uint32, v uint32) {
	off := p.slotDirOffset() + i*4
	byteOrder.PutUint32(p.buf[off:], v)
}

// heapStart is the first byte the heap may use: right after the slot
// directory.
func (p pageView) heapStart() uint32 { return headerSize + p.numSlots()*4 }

// entry returns an entryView rooted at byte offset o within the page.
func (p pageView) entry(o uint32) entryView { return entryView{buf: p.buf[o:]} }

// validate checks I1, I2, I3, I5 and that every live slot offset lies inside
// the used heap. I4 — "every live slot's key hashes back to its own slot" —
// is a property of correct writers and is not checked here or by
// CheckIntegrity. Returns a *Error with KindPageCorrupt on any violation.
func (p pageView) validate(pageSize uint32, pageIdx int) error {
	if p.magic() != pageMagic {
		return newErr("validate", KindPageCorrupt, pageIdx, errMagicMismatch)
	}
	ns := p.numSlots()
	if ns < minNumSlots || ns > pageSize/4 { // I5
		return newErr("validate", KindPageCorrupt, pageIdx, errBadNumSlots)
	}
	if headerSize+ns*4 > pageSize {
		return newErr("validate", KindPageCorrupt, pageIdx, errBadNumSlots)
	}
	fs, os_ := p.freeSlots(), p.oldSlots()
	if fs > ns || os_ > fs { // I2
		return newErr("validate", KindPageCorrupt, pageIdx, errBadSlotCounts)
	}
	if p.freeData()+p.freeBytes() != pageSize { // I1
		return newErr("validate", KindPageCorrupt, pageIdx, errBadFreeAccounting)
	}
	// I3: count slot directory entries equal to 0/1 and equal to 1.
	var zeroOrTomb, tomb uint32
	for i := uint32(0); i < ns; i++ {
		v := p.slotAt(i)
		switch v {
		case slotEmpty:
			zeroOrTomb++
		case slotTombstone:
			zeroOrTomb++
			tomb++
		default:
			if v < p.heapStart() || v >= p.freeData() || v%4 != 0 {
				return newErr("validate", KindPageCorrupt, pageIdx, errBadSlotOffset)
			}
		}
	}
	if zeroOrTomb != fs || tomb != os_ { // I3
		return newErr("validate", KindPageCorrupt, pageIdx, errBadSlotCounts)
	}
	return nil
}

// initPage zero-fills and writes a fresh header into buf, which must be
// exactly pageSize bytes.
func initPage(buf []byte, pageSize uint32, numSlots uint32) {
	for i := range buf {
		buf[i] = 0
	}
	p := newPageView(buf)
	p.setMagic(pageMagic)
	p.setNumSlots(numSlots)
	p.setFreeSlots(numSlots)
	p.setOldSlots(0)
	freeData := headerSize + numSlots*4
	p.setFreeData(freeData)
	p.setFreeBytes(pageSize - freeData)
}

// entryView is a thin window over one entry record, rooted at the record's
// start offset within the page.
type entryView struct {
	buf []byte // buf[0:] is the start of this entry's fixed prefix
}

func (e entryView) lastAccess() uint32 { return byteOrder.Uint32(e.buf[entOffLastAccess:]) }
func (e entryView) expireTime() uint32 { return byteOrder.Uint32(e.buf[entOffExpireTime:]) }
func (e entryView) slotHash() uint32   { return byteOrder.Uint32(e.buf[entOffSlotHash:]) }
func (e entryView) flags() uint32      { return byteOrder.Uint32(e.buf[entOffFlags:]) }
func (e entryView) keyLen() uint32     { return byteOrder.Uint32(e.buf[entOffKeyLen:]) }
func (e entryView) valueLen() uint32   { return byteOrder.Uint32(e.buf[entOffValueLen:]) }

func (e entryView) setLastAccess(v uint32) { byteOrder.PutUint32(e.buf[entOffLastAccess:], v) }
func (e entryView) setExpireTime(v uint32) { byteOrder.PutUint32(e.buf[entOffExpireTime:], v) }
func (e entryView) setSlotHash(v uint32)   { byteOrder.PutUint32(e.buf[entOffSlotHash:], v) }
func (e entryView) setFlags(v uint32)      { byteOrder.PutUint32(e.buf[entOffFlags:], v) }
func (e entryView) setKeyLen(v uint32)     { byteOrder.PutUint32(e.buf[entOffKeyLen:], v) }
func (e entryView) setValueLen(v uint32)   { byteOrder.PutUint32(e.buf[entOffValueLen:], v) }

func (e entryView) key() []byte {
	kl := e.keyLen()
	return e.buf[entOffPayload : entOffPayload+kl]
}

func (e entryView) value() []byte {
	kl, vl := e.keyLen(), e.valueLen()
	start := entOffPayload + kl
	return e.buf[start : start+vl]
}

// recordSize returns the 4-byte-aligned total size of an entry with the
// given key/value lengths, including the fixed 24-byte prefix.
func recordSize(keyLen, valueLen int) uint32 {
	return align4(uint32(entryFixedSize + keyLen + valueLen))
}

// writeEntry writes a full entry record (prefix + key + value) at e's
// offset. Padding bytes beyond the payload, if any, are left untouched by
// the caller's responsibility to zero the destination heap region first
// (do_expunge always does; the hot write path never needs padding because
// free_data only ever advances by recordSize which already accounts for it).
func (e entryView) writeEntry(lastAccess, expireTime, slotHash, flags uint32, key, value []byte) {
	e.setLastAccess(lastAccess)
	e.setExpireTime(expireTime)
	e.setSlotHash(slotHash)
	e.setFlags(flags)
	e.setKeyLen(uint32(len(key)))
	e.setValueLen(uint32(len(value)))
	copy(e.buf[entOffPayload:], key)
	copy(e.buf[entOffPayload+uint32(len(key)):], value)
}
