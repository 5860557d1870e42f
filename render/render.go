/*
Copyright © 2025 the daflow authors.
This file is part of daflow.

daflow is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

daflow is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with daflow.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package render produces concrete engine configuration files from
// templates and moves YAML documents to and from disk. Templates are
// strict: a key the data does not supply is an error, not a silent
// blank, because the analysis engine misreads half-rendered namelists
// without complaint.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Render executes the template at templatePath with data and returns
// the result.
func Render(templatePath string, data any) (string, error) {
	tmpl, err := template.New(filepath.Base(templatePath)).
		Option("missingkey=error").
		ParseFiles(templatePath)
	if err != nil {
		return "", fmt.Errorf("render: parsing template %s: %v", templatePath, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render: executing template %s: %v", templatePath, err)
	}
	return b.String(), nil
}

// RenderToFile renders the template at templatePath with data and
// writes the result to outPath, creating parent directories as needed.
func RenderToFile(templatePath, outPath string, data any) error {
	s, err := Render(templatePath, data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), os.ModePerm); err != nil {
		return fmt.Errorf("render: creating directory for %s: %v", outPath, err)
	}
	if err := os.WriteFile(outPath, []byte(s), 0644); err != nil {
		return fmt.Errorf("render: writing %s: %v", outPath, err)
	}
	return nil
}

// SaveYAML marshals v to YAML at path.
func SaveYAML(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("render: marshaling YAML for %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("render: creating directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("render: writing %s: %v", path, err)
	}
	return nil
}

// LoadYAML unmarshals the YAML document at path into out.
func LoadYAML(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("render: reading %s: %v", path, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("render: parsing %s: %v", path, err)
	}
	return nil
}
