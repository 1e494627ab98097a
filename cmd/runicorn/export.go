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
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/util"
)

var validExportFormats = []string{"zip", "tar.gz"}

func newExportCommand() *cobra.Command {
	var (
		prefix string
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every run under a path prefix to a local archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !util.Contains(validExportFormats, format) {
				return fmt.Errorf("unsupported format %q (want one of %v)", format, validExportFormats)
			}

			idx, closeIdx, err := openIndexReadOnly()
			if err != nil {
				return err
			}
			defer closeIdx()

			ids, err := idx.RunIDsByPrefix(context.Background(), prefix)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return apierr.NewNotFoundError("path", prefix)
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			defer f.Close()
			bw := bufio.NewWriter(f)
			defer bw.Flush()

			store := idx.Store()
			if format == "tar.gz" {
				writeLocalTarGz(bw, store, ids)
			} else {
				writeLocalZip(bw, store, ids)
			}

			fmt.Printf("exported %d run(s) to %s\n", len(ids), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "path prefix to export: runs whose path equals it or nests under it (an empty prefix matches only runs with an empty path)")
	cmd.Flags().StringVar(&out, "out", "runs.zip", "output archive path")
	cmd.Flags().StringVar(&format, "format", "zip", "archive format: zip or tar.gz")
	return cmd
}

type runDirLookup interface {
	RunDir(id string) string
}

func writeLocalZip(w *bufio.Writer, store runDirLookup, ids []string) {
	zw := zip.NewWriter(w)
	defer zw.Close()
	walkRuns(store, ids, func(rel string, info os.FileInfo, src *os.File) {
		f, err := zw.Create(filepath.ToSlash(rel))
		if err == nil {
			fileCopy(f, src)
		}
	})
}

func writeLocalTarGz(w *bufio.Writer, store runDirLookup, ids []string) {
	gw := gzip.NewWriter(w)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()
	walkRuns(store, ids, func(rel string, info os.FileInfo, src *os.File) {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return
		}
		hdr.Name = filepath.ToSlash(rel)
		if tw.WriteHeader(hdr) == nil {
			fileCopy(tw, src)
		}
	})
}

func walkRuns(store runDirLookup, ids []string, visit func(rel string, info os.FileInfo, src *os.File)) {
	for _, id := range ids {
		dir := store.RunDir(id)
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(filepath.Dir(dir), path)
			if err != nil {
				return nil
			}
			src, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer src.Close()
			visit(rel, info, src)
			return nil
		})
	}
}

func fileCopy(dst interface{ Write([]byte) (int, error) }, src *os.File) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
