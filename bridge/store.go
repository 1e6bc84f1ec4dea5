package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	championsFileName  = "champions.json"
	perksFileName      = "perks.json"
	perkStylesFileName = "perkStyles.json"
	schemaFileName     = "schema.json"
)

// SnapshotStore persists data snapshots by build version.
// The live service is the system of record; the store only speeds up startup.
type SnapshotStore interface {
	Load(version string) (*DataSnapshot, error)
	Save(snapshot *DataSnapshot) error
	SaveSchema(version string, schema []byte) error
}

// DirSnapshotStore keeps one directory per build version holding pretty printed
// `champions.json`, `perks.json` and `perkStyles.json`.
type DirSnapshotStore struct {
	root string
}

func NewDirSnapshotStore(root string) *DirSnapshotStore {
	return &DirSnapshotStore{
		root: root,
	}
}

func (self *DirSnapshotStore) Root() string {
	return self.root
}

// VersionPath is the directory for a build version
func (self *DirSnapshotStore) VersionPath(version string) (string, error) {
	if version == "" || version == "." || version == ".." || strings.ContainsAny(version, `/\`) {
		return "", fmt.Errorf("Bad version for a path: %q", version)
	}
	return filepath.Join(self.root, version), nil
}

func (self *DirSnapshotStore) Load(version string) (*DataSnapshot, error) {
	path, err := self.VersionPath(version)
	if err != nil {
		return nil, err
	}
	read := func(name string) (json.RawMessage, error) {
		b, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("%s is not valid json", name)
		}
		return json.RawMessage(b), nil
	}
	snapshot := &DataSnapshot{
		BuildVersion: version,
	}
	if snapshot.Champions, err = read(championsFileName); err != nil {
		return nil, err
	}
	if snapshot.Perks, err = read(perksFileName); err != nil {
		return nil, err
	}
	if snapshot.PerkStyles, err = read(perkStylesFileName); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (self *DirSnapshotStore) Save(snapshot *DataSnapshot) error {
	path, err := self.VersionPath(snapshot.BuildVersion)
	if err != nil {
		return err
	}
	// an existing directory is fine
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	return errors.Join(
		writeIndentedJson(filepath.Join(path, championsFileName), snapshot.Champions),
		writeIndentedJson(filepath.Join(path, perksFileName), snapshot.Perks),
		writeIndentedJson(filepath.Join(path, perkStylesFileName), snapshot.PerkStyles),
	)
}

func (self *DirSnapshotStore) SaveSchema(version string, schema []byte) error {
	path, err := self.VersionPath(version)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	return writeIndentedJson(filepath.Join(path, schemaFileName), schema)
}

// writeIndentedJson writes to a temp file and renames, so a partial write is never loaded
func writeIndentedJson(path string, content []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, content, "", "  "); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	out.WriteByte('\n')

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, out.Bytes(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
