package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
)

// Publisher uploads finished local video files into a Storage.
// The blob name is the base name of the local file.
type Publisher struct {
	Log     logs.Log
	Storage Storage

	// Delete the local file once it has been uploaded
	RemoveLocal bool
}

func (p *Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	name := filepath.Base(localPath)
	err = WriteFile(ctx, p.Storage, name, f)
	f.Close()
	if err != nil {
		return "", err
	}
	if p.RemoveLocal {
		if err := os.Remove(localPath); err != nil {
			p.Log.Warnf("Failed to remove %v after upload: %v", localPath, err)
		}
	}
	if url, err := p.Storage.URL(name); err == nil {
		return url, nil
	}
	return p.Storage.Location(name), nil
}
