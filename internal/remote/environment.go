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

package remote

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

const packageImportName = "runicorn"

// discoverEnvironments probes client for Python interpreters capable
// of importing this package, in order: the interpreter on PATH, every
// conda environment, then common virtualenv locations under the
// user's home. Only candidates whose import succeeds and whose
// version shares localVersion's major.minor are returned.
func discoverEnvironments(client *ssh.Client, localVersion string) ([]Environment, error) {
	candidates := map[string]string{} // name -> python path

	if out, err := runRemote(client, "which python3 || which python"); err == nil {
		path := strings.TrimSpace(out)
		if path != "" {
			candidates["system"] = path
		}
	}

	if out, err := runRemote(client, "conda env list --json 2>/dev/null"); err == nil {
		for _, path := range parseCondaEnvList(out) {
			candidates[path] = path + "/bin/python"
		}
	}

	for _, venv := range []string{"~/.venv/bin/python", "~/venv/bin/python", "~/.virtualenvs/*/bin/python"} {
		if out, err := runRemote(client, fmt.Sprintf("test -x %s && echo %s", venv, venv)); err == nil {
			if p := strings.TrimSpace(out); p != "" {
				candidates[venv] = p
			}
		}
	}

	var envs []Environment
	for name, pythonPath := range candidates {
		probe := fmt.Sprintf(
			`%s -c "import %s; print(%s.__version__); import os; print(os.environ.get('RUNICORN_DIR',''))"`,
			pythonPath, packageImportName, packageImportName,
		)
		out, err := runRemote(client, probe)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) == 0 || lines[0] == "" {
			continue
		}
		version := lines[0]
		if !sameMajorMinor(localVersion, version) {
			continue
		}
		dataRoot := ""
		if len(lines) > 1 {
			dataRoot = lines[1]
		}
		envs = append(envs, Environment{
			Name:           name,
			PythonPath:     pythonPath,
			PackageVersion: version,
			DataRoot:       dataRoot,
			Compatible:     sameMajorMinor(localVersion, version),
		})
	}
	return envs, nil
}

func runRemote(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()
	out, err := session.CombinedOutput(command)
	return string(out), err
}

// parseCondaEnvList extracts environment directory paths from `conda
// env list --json`'s "envs" array without pulling in a JSON dependency
// for a handful of path strings: each array element sits on its own
// line, so a line's last whitespace-separated token, stripped of quotes
// and a trailing comma, is taken as a path when it is absolute. The same
// rule reads the plain-text format, whose non-comment lines end in the
// environment path.
func parseCondaEnvList(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		last := strings.Trim(fields[len(fields)-1], `",`)
		if strings.HasPrefix(last, "/") {
			paths = append(paths, last)
		}
	}
	return paths
}

// sameMajorMinor implements the compatibility policy: identical
// major.minor between local and remote package versions.
func sameMajorMinor(a, b string) bool {
	am := majorMinor(a)
	bm := majorMinor(b)
	return am != "" && am == bm
}

func majorMinor(v string) string {
	v = strings.TrimPrefix(v, "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}
