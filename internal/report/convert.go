package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Convert prints the error lines of a validation report without quotes and keeps
// a copy of the report as <reportsDir>/report<build>.txt. It returns the copy path.
func Convert(in string, out io.Writer, reportsDir, build string) (string, error) {
	f, err := os.Open(in)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "error") || strings.HasPrefix(line, "not found") {
			line = strings.NewReplacer("'", "", `"`, "").Replace(line)
			if _, err = fmt.Fprintln(out, line); err != nil {
				return "", err
			}
		}
	}
	if err = sc.Err(); err != nil {
		return "", err
	}

	if err = os.MkdirAll(reportsDir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(reportsDir, fmt.Sprintf("report%s.txt", build))
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	dst, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err = io.Copy(dst, f); err != nil {
		return "", err
	}

	return dest, nil
}
