package manifest

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ---- Backstage catalog-info.yaml -------------------------------------------

type catalogInfo struct {
	Metadata struct {
		Name        string   `yaml:"name"`
		Title       string   `yaml:"title"`
		Description string   `yaml:"description"`
		Tags        []string `yaml:"tags"`
	} `yaml:"metadata"`
	Spec struct {
		Type      string `yaml:"type"`
		Lifecycle string `yaml:"lifecycle"`
		Owner     string `yaml:"owner"`
	} `yaml:"spec"`
}

func parseCatalogInfo(path string, m *Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var info catalogInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return err
	}
	m.Name = info.Metadata.Name
	m.Title = info.Metadata.Title
	m.Description = info.Metadata.Description
	m.Keywords = info.Metadata.Tags
	if info.Spec.Type != "" {
		m.Extra["type"] = info.Spec.Type
	}
	if info.Spec.Lifecycle != "" {
		m.Extra["lifecycle"] = info.Spec.Lifecycle
	}
	if info.Spec.Owner != "" {
		m.Extra["owner"] = info.Spec.Owner
	}
	return nil
}

// ---- pyproject.toml ---------------------------------------------------------

type pyproject struct {
	Project struct {
		Name         string   `toml:"name"`
		Description  string   `toml:"description"`
		Version      string   `toml:"version"`
		Dependencies []string `toml:"dependencies"`
		Keywords     []string `toml:"keywords"`
		License      license  `toml:"license"`
		URLs         map[string]string `toml:"urls"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string                 `toml:"name"`
			Description  string                 `toml:"description"`
			Version      string                 `toml:"version"`
			License      string                 `toml:"license"`
			Repository   string                 `toml:"repository"`
			Keywords     []string               `toml:"keywords"`
			Dependencies map[string]interface{} `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// license tolerates both the string and the {text = ...} table form.
type license struct {
	Value string
}

func (l *license) UnmarshalTOML(v interface{}) error {
	switch t := v.(type) {
	case string:
		l.Value = t
	case map[string]interface{}:
		if text, ok := t["text"].(string); ok {
			l.Value = text
		}
	}
	return nil
}

// pep508Name captures the distribution name ahead of extras/specifiers.
var pep508Name = regexp.MustCompile(`^\s*([A-Za-z0-9._-]+)\s*(.*)$`)

func parsePyproject(path string, m *Manifest) error {
	var py pyproject
	if _, err := toml.DecodeFile(path, &py); err != nil {
		return err
	}

	switch {
	case py.Project.Name != "":
		m.Name = py.Project.Name
		m.Description = py.Project.Description
		m.Version = py.Project.Version
		m.Keywords = py.Project.Keywords
		m.License = py.Project.License.Value
		for key, url := range py.Project.URLs {
			if k := strings.ToLower(key); k == "repository" || k == "source" || k == "homepage" {
				m.RepositoryURL = url
				break
			}
		}
		for _, dep := range py.Project.Dependencies {
			if match := pep508Name.FindStringSubmatch(dep); match != nil {
				m.Dependencies[strings.ToLower(match[1])] = strings.TrimSpace(match[2])
			}
		}
	case py.Tool.Poetry.Name != "":
		p := py.Tool.Poetry
		m.Name = p.Name
		m.Description = p.Description
		m.Version = p.Version
		m.License = p.License
		m.RepositoryURL = p.Repository
		m.Keywords = p.Keywords
		for dep, v := range p.Dependencies {
			if strings.EqualFold(dep, "python") {
				continue
			}
			m.Dependencies[strings.ToLower(dep)] = fmt.Sprintf("%v", v)
		}
	default:
		return fmt.Errorf("no [project] or [tool.poetry] table")
	}
	return nil
}

// ---- package.json -----------------------------------------------------------

type packageJSON struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Version         string            `json:"version"`
	License         string            `json:"license"`
	Keywords        []string          `json:"keywords"`
	Repository      json.RawMessage   `json:"repository"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func parsePackageJSON(path string, m *Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return err
	}
	m.Name = pkg.Name
	m.Description = pkg.Description
	m.Version = pkg.Version
	m.License = pkg.License
	m.Keywords = pkg.Keywords
	m.RepositoryURL = repositoryURL(pkg.Repository)
	for dep, v := range pkg.Dependencies {
		m.Dependencies[strings.ToLower(dep)] = v
	}
	for dep, v := range pkg.DevDependencies {
		m.Dependencies[strings.ToLower(dep)] = v
	}
	if _, ok := m.Dependencies["typescript"]; ok {
		m.Languages = appendUnique(m.Languages, "typescript")
	}
	return nil
}

// repositoryURL handles both the string and the {"url": ...} object form.
func repositoryURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

// ---- Cargo.toml -------------------------------------------------------------

type cargoToml struct {
	Package struct {
		Name        string   `toml:"name"`
		Description string   `toml:"description"`
		Version     string   `toml:"version"`
		License     string   `toml:"license"`
		Repository  string   `toml:"repository"`
		Keywords    []string `toml:"keywords"`
	} `toml:"package"`
	Dependencies map[string]interface{} `toml:"dependencies"`
}

func parseCargo(path string, m *Manifest) error {
	var cargo cargoToml
	if _, err := toml.DecodeFile(path, &cargo); err != nil {
		return err
	}
	if cargo.Package.Name == "" {
		return fmt.Errorf("no [package] table")
	}
	m.Name = cargo.Package.Name
	m.Description = cargo.Package.Description
	m.Version = cargo.Package.Version
	m.License = cargo.Package.License
	m.RepositoryURL = cargo.Package.Repository
	m.Keywords = cargo.Package.Keywords
	for dep, v := range cargo.Dependencies {
		version := ""
		switch t := v.(type) {
		case string:
			version = t
		case map[string]interface{}:
			if ver, ok := t["version"].(string); ok {
				version = ver
			}
		}
		m.Dependencies[strings.ToLower(dep)] = version
	}
	return nil
}

// ---- go.mod -----------------------------------------------------------------

var goModRequire = regexp.MustCompile(`^\s*([\w./-]+)\s+(v[\w.+-]+)`)

func parseGoMod(path string, m *Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	inRequire := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "module "):
			modPath := strings.TrimSpace(strings.TrimPrefix(line, "module "))
			parts := strings.Split(modPath, "/")
			m.Name = parts[len(parts)-1]
			m.Extra["module"] = modPath
		case strings.HasPrefix(line, "require ("):
			inRequire = true
		case inRequire && line == ")":
			inRequire = false
		case inRequire || strings.HasPrefix(line, "require "):
			entry := strings.TrimPrefix(line, "require ")
			if match := goModRequire.FindStringSubmatch(entry); match != nil {
				m.Dependencies[strings.ToLower(match[1])] = match[2]
			}
		}
	}
	if m.Name == "" {
		return fmt.Errorf("no module declaration")
	}
	return scanner.Err()
}

// ---- .csproj ----------------------------------------------------------------

type csproj struct {
	PropertyGroups []struct {
		AssemblyName             string `xml:"AssemblyName"`
		RootNamespace            string `xml:"RootNamespace"`
		Description              string `xml:"Description"`
		Version                  string `xml:"Version"`
		PackageLicenseExpression string `xml:"PackageLicenseExpression"`
		RepositoryURL            string `xml:"RepositoryUrl"`
	} `xml:"PropertyGroup"`
	ItemGroups []struct {
		PackageReferences []struct {
			Include string `xml:"Include,attr"`
			Version string `xml:"Version,attr"`
		} `xml:"PackageReference"`
	} `xml:"ItemGroup"`
}

func parseCsproj(path string, m *Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var proj csproj
	if err := xml.Unmarshal(data, &proj); err != nil {
		return err
	}
	for _, pg := range proj.PropertyGroups {
		if m.Name == "" && pg.AssemblyName != "" {
			m.Name = pg.AssemblyName
		}
		if m.Name == "" && pg.RootNamespace != "" {
			m.Name = pg.RootNamespace
		}
		if m.Description == "" {
			m.Description = pg.Description
		}
		if m.Version == "" {
			m.Version = pg.Version
		}
		if m.License == "" {
			m.License = pg.PackageLicenseExpression
		}
		if m.RepositoryURL == "" {
			m.RepositoryURL = pg.RepositoryURL
		}
	}
	for _, ig := range proj.ItemGroups {
		for _, ref := range ig.PackageReferences {
			m.Dependencies[strings.ToLower(ref.Include)] = ref.Version
		}
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(strings.TrimSuffix(path[strings.LastIndexByte(path, '/')+1:], ".csproj"), ".CSPROJ")
	}
	return nil
}

// ---- pom.xml ----------------------------------------------------------------

type pomXML struct {
	ArtifactID  string `xml:"artifactId"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Version     string `xml:"version"`
	URL         string `xml:"url"`
	Licenses    struct {
		License []struct {
			Name string `xml:"name"`
		} `xml:"license"`
	} `xml:"licenses"`
	Dependencies struct {
		Dependency []struct {
			GroupID    string `xml:"groupId"`
			ArtifactID string `xml:"artifactId"`
			Version    string `xml:"version"`
		} `xml:"dependency"`
	} `xml:"dependencies"`
}

func parsePom(path string, m *Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pom pomXML
	if err := xml.Unmarshal(data, &pom); err != nil {
		return err
	}
	m.Name = pom.ArtifactID
	m.Title = pom.Name
	m.Description = pom.Description
	m.Version = pom.Version
	m.RepositoryURL = pom.URL
	if len(pom.Licenses.License) > 0 {
		m.License = pom.Licenses.License[0].Name
	}
	for _, dep := range pom.Dependencies.Dependency {
		m.Dependencies[strings.ToLower(dep.GroupID)] = dep.Version
	}
	if m.Name == "" {
		return fmt.Errorf("no artifactId")
	}
	return nil
}

// ---- build.gradle -----------------------------------------------------------

var gradleDep = regexp.MustCompile(`(?:implementation|api|compile|testImplementation)\s*[('"]+([\w.-]+):([\w.-]+):?([\w.-]*)`)

func parseGradle(path string, m *Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, match := range gradleDep.FindAllStringSubmatch(string(data), -1) {
		m.Dependencies[strings.ToLower(match[1])] = match[3]
	}
	return nil
}

// ---- Gemfile ----------------------------------------------------------------

var gemfileDep = regexp.MustCompile(`^\s*gem\s+['"]([\w-]+)['"](?:\s*,\s*['"]([^'"]+)['"])?`)

func parseGemfile(path string, m *Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if match := gemfileDep.FindStringSubmatch(scanner.Text()); match != nil {
			m.Dependencies[strings.ToLower(match[1])] = match[2]
		}
	}
	return scanner.Err()
}

// ---- setup.py / requirements.txt -------------------------------------------

var setupField = regexp.MustCompile(`(name|description|version)\s*=\s*['"]([^'"]+)['"]`)

func parseSetupPy(path string, m *Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, match := range setupField.FindAllStringSubmatch(string(data), -1) {
		switch match[1] {
		case "name":
			if m.Name == "" {
				m.Name = match[2]
			}
		case "description":
			if m.Description == "" {
				m.Description = match[2]
			}
		case "version":
			if m.Version == "" {
				m.Version = match[2]
			}
		}
	}
	return nil
}

func parseRequirements(path string, m *Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if match := pep508Name.FindStringSubmatch(line); match != nil {
			m.Dependencies[strings.ToLower(match[1])] = strings.TrimSpace(match[2])
		}
	}
	return scanner.Err()
}
