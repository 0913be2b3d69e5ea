package core

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConverterConfig describes one external converter command.
//
// Args may reference {input}, {output} and {outdir}; the same paths are
// always exported through the converter environment variables as well.
type ConverterConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	Output  string   `yaml:"output"` // Extension of the file the converter writes
}

// ConvertersFile is the on-disk shape of the converters YAML file.
//
//	converters:
//	  step: {command: python3, args: ["/opt/st/step2obj.py"], output: obj}
//	office:
//	  command: soffice
type ConvertersFile struct {
	Converters map[string]ConverterConfig `yaml:"converters"`
	Office     *ConverterConfig           `yaml:"office"`
}

// Converters is the resolved converter table.
type Converters struct {
	Mesh   map[string]ConverterConfig // keyed by lowercase extension, no dot
	Office ConverterConfig
}

// meshOutputs lists the formats the 3D generator can read back.
var meshOutputs = map[string]bool{"obj": true, "stl": true, "ply": true, "glb": true, "gltf": true}

// DefaultConverters returns the built-in table: CAD formats go through
// step2obj on PATH to OBJ, office documents through LibreOffice to PDF.
func DefaultConverters() Converters {
	cad := ConverterConfig{Command: "step2obj", Output: "obj"}
	return Converters{
		Mesh: map[string]ConverterConfig{
			"step": cad,
			"stp":  cad,
			"igs":  cad,
			"iges": cad,
		},
		Office: ConverterConfig{
			Command: "soffice",
			Args:    []string{"--headless", "--convert-to", "pdf", "--outdir", "{outdir}", "{input}"},
			Output:  "pdf",
		},
	}
}

// LoadConverters reads the converters file at path and overlays it on the
// defaults. A missing file (or an empty path) yields the defaults.
func LoadConverters(path string) (Converters, error) {
	conv := DefaultConverters()
	if path == "" {
		return conv, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return conv, nil
	}
	if err != nil {
		return conv, ErrConvertersFile(path, err)
	}

	var file ConvertersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return conv, ErrConvertersFile(path, err)
	}

	for ext, c := range file.Converters {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if c.Command == "" {
			return conv, ErrInvalidConverter(ext, "missing command")
		}
		c.Output = strings.TrimPrefix(strings.ToLower(c.Output), ".")
		if !meshOutputs[c.Output] {
			return conv, ErrInvalidConverter(ext, "unsupported output "+c.Output)
		}
		conv.Mesh[ext] = c
	}

	if file.Office != nil {
		office := conv.Office
		if file.Office.Command != "" {
			office.Command = file.Office.Command
		}
		if len(file.Office.Args) > 0 {
			office.Args = file.Office.Args
		}
		office.Env = file.Office.Env
		conv.Office = office
	}

	return conv, nil
}

// MeshExtensions returns the sorted extensions that have a mesh converter.
func (c Converters) MeshExtensions() []string {
	exts := make([]string, 0, len(c.Mesh))
	for ext := range c.Mesh {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
