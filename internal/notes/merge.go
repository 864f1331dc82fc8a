package notes

import "sort"

// Merge reconciles a local snapshot with a remote snapshot and returns a new
// snapshot. Neither input is mutated.
//
// Per video: a video with no local entry adopts the remote sequence verbatim.
// Otherwise each remote note is matched by id against the local sequence; an
// unmatched remote note is appended, a matched one replaces the local entry
// only when its UpdatedAt is strictly greater. Equal UpdatedAt keeps the local
// copy, so a pending local edit survives a fetch that raced it. Local notes
// absent from the remote side are kept unchanged. Every resulting sequence is
// sorted by Timestamp ascending.
//
// The function is deterministic, independent of remote ordering, and
// idempotent: applying the same remote snapshot twice changes nothing.
func Merge(local, remote map[string][]Note) map[string][]Note {
	merged := make(map[string][]Note, len(local)+len(remote))

	for videoID, localNotes := range local {
		merged[videoID] = append([]Note(nil), localNotes...)
	}

	for videoID, remoteNotes := range remote {
		current, hasLocal := merged[videoID]
		if !hasLocal {
			adopted := append([]Note(nil), remoteNotes...)
			sortByTimestamp(adopted)
			merged[videoID] = adopted
			continue
		}

		indexByID := make(map[string]int, len(current))
		for i, note := range current {
			indexByID[note.ID] = i
		}

		for _, remoteNote := range remoteNotes {
			i, found := indexByID[remoteNote.ID]
			if !found {
				current = append(current, remoteNote)
				indexByID[remoteNote.ID] = len(current) - 1
				continue
			}
			if remoteNote.UpdatedAt > current[i].UpdatedAt {
				current[i] = remoteNote
			}
		}

		sortByTimestamp(current)
		merged[videoID] = current
	}

	return merged
}

func sortByTimestamp(sequence []Note) {
	sort.SliceStable(sequence, func(i, j int) bool {
		return sequence[i].Timestamp < sequence[j].Timestamp
	})
}
