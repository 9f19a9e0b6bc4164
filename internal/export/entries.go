package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/search"
	"github.com/nickcecere/framegrep/internal/store"
)

// Entry is the JSON form of one returned result. It is what
// `framegrep search --json` prints and what export reads back, so a result
// list can be exported exactly as it was shown. ID is a display ID.
type Entry struct {
	Rank              int     `json:"rank"`
	ID                int64   `json:"id"`
	Video             string  `json:"video"`
	FolderID          int     `json:"folder_id"`
	ChildFolderID     int     `json:"child_folder_id"`
	FrameID           int64   `json:"frame_id"`
	FrameMappingIndex int64   `json:"frame_mapping_index"`
	Distance          float32 `json:"distance"`
	ImagePath         string  `json:"image_path"`
}

// NewEntry converts a ranked item.
func NewEntry(it search.Item, ids search.IDMapper) Entry {
	r := it.Record
	return Entry{
		Rank:              it.Rank,
		ID:                ids.ToDisplay(r.ID),
		Video:             VideoName(r.FolderID, r.ChildFolderID),
		FolderID:          r.FolderID,
		ChildFolderID:     r.ChildFolderID,
		FrameID:           r.FrameID,
		FrameMappingIndex: r.FrameMappingIndex,
		Distance:          it.Distance,
		ImagePath:         r.ImagePath,
	}
}

// ReadEntries decodes a result list: either a JSON array of entries or an
// object with a "results" array, as printed by `search --json`.
func ReadEntries(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	return ParseEntries(data)
}

// ParseEntries is ReadEntries over a byte slice.
func ParseEntries(data []byte) ([]Entry, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: results are not valid JSON", errdefs.ErrInvalidArgument)
	}

	list := gjson.ParseBytes(data)
	if list.IsObject() {
		list = list.Get("results")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: expected a results array", errdefs.ErrInvalidArgument)
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(list.Raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: malformed result entry: %v", errdefs.ErrInvalidArgument, err)
	}
	return entries, nil
}

// Items converts entries back into ranked items, keeping their order. The
// video name, when present, supplies the folder IDs.
func Items(entries []Entry, ids search.IDMapper) ([]search.Item, error) {
	items := make([]search.Item, 0, len(entries))
	for i, e := range entries {
		folder, child := e.FolderID, e.ChildFolderID
		if e.Video != "" {
			if _, err := fmt.Sscanf(e.Video, "L%d_V%d", &folder, &child); err != nil {
				return nil, fmt.Errorf("%w: entry %d: bad video name %q", errdefs.ErrInvalidArgument, i+1, e.Video)
			}
		}

		rank := e.Rank
		if rank <= 0 {
			rank = i + 1
		}
		items = append(items, search.Item{
			Rank:     rank,
			Distance: e.Distance,
			Record: store.AssetRecord{
				ID:                ids.ToStored(e.ID),
				FolderID:          folder,
				ChildFolderID:     child,
				FrameID:           e.FrameID,
				ImagePath:         e.ImagePath,
				FrameMappingIndex: e.FrameMappingIndex,
			},
		})
	}
	return items, nil
}
