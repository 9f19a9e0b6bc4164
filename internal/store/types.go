// Package store reads and writes asset metadata in the image_features table.
package store

// AssetRecord is the metadata of one indexed frame. ID is the key shared with
// the vector index.
type AssetRecord struct {
	ID                int64  `db:"id" json:"id"`
	FolderID          int    `db:"folder_id" json:"folder_id"`
	ChildFolderID     int    `db:"child_folder_id" json:"child_folder_id"`
	FrameID           int64  `db:"frame_id" json:"frame_id"`
	ImagePath         string `db:"image_path" json:"image_path"`
	FrameMappingIndex int64  `db:"frame_mapping_index" json:"frame_mapping_index"`
}

// Stats summarizes the metadata store.
type Stats struct {
	Driver string `json:"driver"`
	Count  int64  `json:"count"`
	MinID  int64  `json:"min_id"`
	MaxID  int64  `json:"max_id"`
}
