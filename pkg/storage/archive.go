package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// Archive is one exported conversation: every turn known at export time plus
// enough metadata to identify the conversation later.
type Archive struct {
	ConversationID string       `json:"conversation_id"`
	UserID         string       `json:"user_id,omitempty"`
	ExportedAt     time.Time    `json:"exported_at"`
	Turns          []convo.Turn `json:"turns"`
}

// ArchivePath returns the canonical blob path for a conversation exported at
// the given time: <conversation>/<RFC3339 stamp>.json.
func ArchivePath(conversationID string, exportedAt time.Time) string {
	return conversationID + "/" + exportedAt.UTC().Format("2006-01-02T15-04-05Z") + ".json"
}

// Export writes an archive of turns to the blob store and returns the path it
// was written under.
func Export(ctx context.Context, store BlobStore, conversationID, userID string, turns []convo.Turn) (string, error) {
	arch := Archive{
		ConversationID: conversationID,
		UserID:         userID,
		ExportedAt:     time.Now().UTC(),
		Turns:          turns,
	}
	path := ArchivePath(conversationID, arch.ExportedAt)

	w, err := store.Write(ctx, path)
	if err != nil {
		return "", fmt.Errorf("storage: open archive %s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(arch); err != nil {
		w.Close()
		return "", fmt.Errorf("storage: encode archive %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: flush archive %s: %w", path, err)
	}
	return path, nil
}

// Load reads an archive back from the blob store.
func Load(ctx context.Context, store BlobStore, path string) (*Archive, error) {
	r, err := store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("storage: open archive %s: %w", path, err)
	}
	defer r.Close()

	var arch Archive
	if err := json.NewDecoder(r).Decode(&arch); err != nil {
		return nil, fmt.Errorf("storage: decode archive %s: %w", path, err)
	}
	return &arch, nil
}
