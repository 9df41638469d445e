package agentloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type editorInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine *int   `json:"insert_line"`
	ViewRange  []int  `json:"view_range"`
}

func runEditor(workdir string, in editorInput) (string, error) {
	if in.Path == "" {
		return "", errors.New("path is required")
	}
	path := in.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workdir, path)
	}
	switch in.Command {
	case "view":
		return viewPath(path, in.ViewRange)
	case "create":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(in.FileText), 0o644); err != nil {
			return "", err
		}
		return "File created: " + path, nil
	case "str_replace":
		return strReplace(path, in.OldStr, in.NewStr)
	case "insert":
		if in.InsertLine == nil {
			return "", errors.New("insert_line is required")
		}
		return insertAfter(path, *in.InsertLine, in.NewStr)
	default:
		return "", fmt.Errorf("unknown editor command %q", in.Command)
	}
}

func viewPath(path string, viewRange []int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			b.WriteString(name)
			b.WriteByte('\n')
		}
		return b.String(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	start, end := 1, len(lines)
	if len(viewRange) == 2 {
		start, end = viewRange[0], viewRange[1]
		if start < 1 {
			start = 1
		}
		if end < 0 || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			return "", fmt.Errorf("view_range [%d, %d] is out of order", viewRange[0], viewRange[1])
		}
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i, lines[i-1])
	}
	return b.String(), nil
}

func strReplace(path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", errors.New("old_str is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, oldStr); {
	case n == 0:
		return "", fmt.Errorf("old_str not found in %s", path)
	case n > 1:
		return "", fmt.Errorf("old_str appears %d times in %s; it must be unique", n, path)
	}
	content = strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return "File edited: " + path, nil
}

func insertAfter(path string, line int, text string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if line < 0 || line > len(lines) {
		return "", fmt.Errorf("insert_line %d is out of range; file has %d lines", line, len(lines))
	}
	inserted := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:line]...)
	out = append(out, inserted...)
	out = append(out, lines[line:]...)
	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")+"\n"), 0o644); err != nil {
		return "", err
	}
	return "File edited: " + path, nil
}
