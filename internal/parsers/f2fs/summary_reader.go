package f2fs

import (
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Journal capacities of one summary block.
const (
	natJournalEntries = (types.F2FSSumJournalSize - 2) / types.F2FSNatJournalEntrySize
	sitJournalEntries = (types.F2FSSumJournalSize - 2) / types.F2FSSitJournalEntrySize
)

// ParseSummaryEntry decodes one summary entry.
func ParseSummaryEntry(data []byte) types.F2FSSummary {
	return types.F2FSSummary{
		Nid:       le.Uint32(data[0:4]),
		Version:   data[4],
		OfsInNode: le.Uint16(data[5:7]),
	}
}

// ParseNatJournal decodes a NAT journal: a count followed by (nid, entry) pairs.
func ParseNatJournal(data []byte) []types.F2FSNatEntry {
	n := int(le.Uint16(data[0:2]))
	if n > natJournalEntries {
		n = natJournalEntries
	}
	out := make([]types.F2FSNatEntry, 0, n)
	for i := 0; i < n; i++ {
		off := 2 + i*types.F2FSNatJournalEntrySize
		nid := le.Uint32(data[off:])
		out = append(out, ParseNatEntry(data[off+4:], nid))
	}
	return out
}

// ParseSitJournal decodes a SIT journal: a count followed by (segno, entry) pairs.
func ParseSitJournal(data []byte) []types.F2FSSitJournalEntry {
	n := int(le.Uint16(data[0:2]))
	if n > sitJournalEntries {
		n = sitJournalEntries
	}
	out := make([]types.F2FSSitJournalEntry, 0, n)
	for i := 0; i < n; i++ {
		off := 2 + i*types.F2FSSitJournalEntrySize
		out = append(out, types.F2FSSitJournalEntry{
			Segno: le.Uint32(data[off:]),
			Entry: ParseSitEntry(data[off+4:]),
		})
	}
	return out
}

// ParseSummaryBlock decodes a full summary block: 512 entries, the journal
// and the footer. Data summaries carry a NAT journal; node summaries a SIT
// journal.
func ParseSummaryBlock(block []byte) (*types.F2FSSummaryBlock, error) {
	if len(block) < types.F2FSBlockSize {
		return nil, fmt.Errorf("data too small for summary block: %d bytes", len(block))
	}

	sum := &types.F2FSSummaryBlock{
		Entries: make([]types.F2FSSummary, types.F2FSEntriesInSum),
		Type:    block[types.F2FSSumFooterOffset],
	}
	for i := range sum.Entries {
		sum.Entries[i] = ParseSummaryEntry(block[i*types.F2FSSummarySize:])
	}

	journal := block[types.F2FSSumEntrySize : types.F2FSSumEntrySize+types.F2FSSumJournalSize]
	if sum.Type == types.F2FSSumTypeData {
		sum.NatJournal = ParseNatJournal(journal)
	} else {
		sum.SitJournal = ParseSitJournal(journal)
	}
	return sum, nil
}

// CompactSummaries holds the data-log summaries packed into a checkpoint pack.
type CompactSummaries struct {
	NatJournal []types.F2FSNatEntry
	SitJournal []types.F2FSSitJournalEntry
	// Entries per open data log, each blkoff entries long.
	Entries [types.F2FSNrCursegDataType][]types.F2FSSummary
}

// ParseCompactSummaries decodes compacted data summaries. blocks holds the
// consecutive pack blocks starting at start_sum; blkoff is the write
// pointer of each open data log.
func ParseCompactSummaries(blocks [][]byte, blkoff [types.F2FSNrCursegDataType]uint16) (*CompactSummaries, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no compact summary blocks")
	}
	for i, b := range blocks {
		if len(b) < types.F2FSBlockSize {
			return nil, fmt.Errorf("compact summary block %d too small: %d bytes", i, len(b))
		}
	}

	out := &CompactSummaries{
		NatJournal: ParseNatJournal(blocks[0][0:types.F2FSSumJournalSize]),
		SitJournal: ParseSitJournal(blocks[0][types.F2FSSumJournalSize : 2*types.F2FSSumJournalSize]),
	}

	bi := 0
	offset := 2 * types.F2FSSumJournalSize
	for t := 0; t < types.F2FSNrCursegDataType; t++ {
		n := int(blkoff[t])
		if n > types.F2FSEntriesInSum {
			return nil, fmt.Errorf("data log %d write pointer %d exceeds %d", t, n, types.F2FSEntriesInSum)
		}
		entries := make([]types.F2FSSummary, 0, n)
		for j := 0; j < n; j++ {
			if bi >= len(blocks) {
				return nil, fmt.Errorf("compact summaries run past %d blocks", len(blocks))
			}
			entries = append(entries, ParseSummaryEntry(blocks[bi][offset:]))
			offset += types.F2FSSummarySize
			if offset+types.F2FSSummarySize > types.F2FSBlockSize-types.F2FSSumFooterSize {
				bi++
				offset = 0
			}
		}
		out.Entries[t] = entries
	}
	return out, nil
}
