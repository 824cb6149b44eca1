// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BootStore persists snmpEngineBoots across restarts.
type BootStore interface {
	LoadBoots(engineID string) (uint32, error)
	StoreBoots(engineID string, boots uint32) error
}

// FileBootStore keeps one small file per engine ID under Dir. The zero value
// uses a directory below os.TempDir.
type FileBootStore struct {
	Dir string
}

var _ BootStore = FileBootStore{}

func (s FileBootStore) path(engineID string) string {
	dir := s.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "snmpengine")
	}
	return filepath.Join(dir, hex.EncodeToString([]byte(engineID)), "boots")
}

func (s FileBootStore) LoadBoots(engineID string) (uint32, error) {
	data, err := os.ReadFile(s.path(engineID))
	if err != nil {
		return 0, err
	}
	boots, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("corrupt boots file: %w", err)
	}
	return uint32(boots), nil
}

// StoreBoots writes through a temporary file and a rename so a crash never
// leaves a truncated counter behind.
func (s FileBootStore) StoreBoots(engineID string, boots uint32) error {
	path := s.path(engineID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "boots-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err = f.WriteString(strconv.FormatUint(uint64(boots), 10) + "\n"); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// memoryBootStore is used when persistence is explicitly disabled.
type memoryBootStore map[string]uint32

func (m memoryBootStore) LoadBoots(engineID string) (uint32, error) {
	boots, ok := m[engineID]
	if !ok {
		return 0, os.ErrNotExist
	}
	return boots, nil
}

func (m memoryBootStore) StoreBoots(engineID string, boots uint32) error {
	m[engineID] = boots
	return nil
}

// NewMemoryBootStore returns a BootStore that forgets everything on exit.
func NewMemoryBootStore() BootStore {
	return memoryBootStore{}
}
