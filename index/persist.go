package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/braidsearch/braid/schema"
)

const snapshotVersion = 1

func assetURL(baseURL, name string) string {
	return url.Join(baseURL, name+".json")
}

func binaryAssetURL(baseURL, name string) string {
	return url.Join(baseURL, name+".bin")
}

func uploadBytes(ctx context.Context, URL string, data []byte) error {
	fs := afs.New()
	if ok, _ := fs.Exists(ctx, URL); ok {
		_ = fs.Delete(ctx, URL)
	}
	if err := fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload snapshot %s: %w", URL, err)
	}
	return nil
}

// readBytes returns the asset contents, or found=false when the asset
// does not exist.
func readBytes(ctx context.Context, URL string) ([]byte, bool, error) {
	fs := afs.New()
	if ok, _ := fs.Exists(ctx, URL); !ok {
		return nil, false, nil
	}
	reader, err := fs.OpenURL(ctx, URL)
	if err != nil {
		return nil, false, fmt.Errorf("open snapshot %s: %w", URL, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot %s: %w", URL, err)
	}
	return data, true, nil
}

func saveJSON(ctx context.Context, URL string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return uploadBytes(ctx, URL, data)
}

func loadJSON(ctx context.Context, URL string, v any) (bool, error) {
	data, found, err := readBytes(ctx, URL)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("corrupt snapshot %s: %v: %w", URL, err, schema.ErrIndex)
	}
	return true, nil
}
