// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newImportCommand() *cobra.Command {
	var archivePath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import runs from an archive produced by export",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, closeIdx, err := openIndexReadOnly()
			if err != nil {
				return err
			}
			defer closeIdx()

			dataRoot := idx.Store().Root()

			var extracted int
			switch {
			case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
				extracted, err = importTarGz(archivePath, dataRoot)
			default:
				extracted, err = importZip(archivePath, dataRoot)
			}
			if err != nil {
				return err
			}

			if err := idx.Rebuild(context.Background()); err != nil {
				return fmt.Errorf("rebuild index: %w", err)
			}
			fmt.Printf("imported %d file(s), index rebuilt\n", extracted)
			return nil
		},
	}

	cmd.Flags().StringVar(&archivePath, "archive", "", "archive file produced by 'runicorn export'")
	cmd.MarkFlagRequired("archive")
	return cmd
}

func importZip(archivePath, dataRoot string) (int, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	count := 0
	for _, f := range zr.File {
		dest, err := safeJoin(dataRoot, f.Name)
		if err != nil {
			return count, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return count, err
		}
		rc, err := f.Open()
		if err != nil {
			return count, err
		}
		if err := writeExtracted(dest, rc, f.Mode()); err != nil {
			rc.Close()
			return count, err
		}
		rc.Close()
		count++
	}
	return count, nil
}

func importTarGz(archivePath, dataRoot string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dest, err := safeJoin(dataRoot, hdr.Name)
		if err != nil {
			return count, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return count, err
		}
		if err := writeExtracted(dest, tr, os.FileMode(hdr.Mode)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// safeJoin rejects entries that would escape dataRoot via ".." segments
// or an absolute path — an archive is untrusted input.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("archive entry %q escapes the data root", name)
	}
	return filepath.Join(root, clean), nil
}

func writeExtracted(dest string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}
