// Package tunefile reads and writes the XML tune file format (spec §6.2):
// a snapshot of every constant/PC-variable value plus enough definition
// metadata (a structural hash, a constant manifest) to detect whether the
// definition a tune was saved against still matches the one loading it.
// The fixed, ordered-children schema is a natural fit for encoding/xml
// struct tags — no XML library in the retrieval pack offers a
// marshal/unmarshal round trip, only query/scrape helpers, so this
// component stays on the standard library by necessity rather than choice.
package tunefile

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tunecraft/ecucore/cache"
	"github.com/tunecraft/ecucore/definition"
)

const xmlNamespace = "http://www.msefi.com/:msq"

// Doc is the in-memory form of a <msq> tune file.
type Doc struct {
	XMLName xml.Name `xml:"msq"`
	Xmlns   string   `xml:"xmlns,attr"`

	VersionInfo VersionInfo `xml:"versionInfo"`
	Bibliography Bibliography `xml:"bibliography"`
	IniMetadata IniMetadata `xml:"iniMetadata"`

	ConstantManifest ConstantManifest `xml:"constantManifest"`
	Pages            []Page           `xml:"page"`
	PCVariables      []PCVariable     `xml:"pcVariable"`
}

type VersionInfo struct {
	Signature string `xml:"signature,attr"`
}

type Bibliography struct {
	Author      string `xml:"author,attr"`
	WriteDate   string `xml:"writeDate,attr"`
	TuneComment string `xml:"tuneComment,attr"`
}

// IniMetadata records which definition this tune was saved against, so a
// load against a different (or changed) definition can be detected before
// any byte is trusted. Hash is hex-encoded SHA-256 of the definition's
// structural hash input (definition.Definition.StructuralHash already is
// that hex string, so it is carried through verbatim).
type IniMetadata struct {
	Hash        string `xml:"hash,attr"`
	Name        string `xml:"name,attr"`
	Signature   string `xml:"signature,attr"`
	SpecVersion string `xml:"specVersion,attr"`
	SavedAt     string `xml:"savedAt,attr"` // ISO-8601
}

type ConstantManifest struct {
	Entries []ManifestEntry `xml:"entry"`
}

type ManifestEntry struct {
	Name      string  `xml:"name,attr"`
	Kind      string  `xml:"kind,attr"`
	Page      int     `xml:"page,attr"`
	Offset    int     `xml:"offset,attr"`
	Scale     float64 `xml:"scale,attr"`
	Translate float64 `xml:"translate,attr"`
}

type Page struct {
	Number    int        `xml:"number,attr"`
	Constants []XMLConst `xml:"constant"`
	PageData  string     `xml:"pageData,omitempty"`
}

type XMLConst struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type PCVariable struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// MigrationReport is returned from Load for every tune whose XML parses.
// Its flags are set when the loaded definition doesn't match the one the
// tune claims to have been saved against. The caller decides whether to proceed (spec
// §7's Migration::{StructuralHashChanged, Incompatible} is non-fatal).
type MigrationReport struct {
	StructuralHashChanged bool
	Incompatible          bool
	Detail                string
}

// Save renders c's current constant/PC-variable values, plus def's
// manifest, into a Doc ready for xml.Marshal.
func Save(def *definition.Definition, c *cache.Cache, author, comment string, savedAt string) (*Doc, error) {
	doc := &Doc{
		Xmlns:        xmlNamespace,
		VersionInfo:  VersionInfo{Signature: def.Signature},
		Bibliography: Bibliography{Author: author, WriteDate: savedAt, TuneComment: comment},
		IniMetadata: IniMetadata{
			Hash:        def.StructuralHash,
			Name:        def.Signature,
			Signature:   def.Signature,
			SpecVersion: "1.0",
			SavedAt:     savedAt,
		},
	}

	names := make([]string, 0, len(def.Constants))
	for name := range def.Constants {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		con := def.Constants[name]
		doc.ConstantManifest.Entries = append(doc.ConstantManifest.Entries, ManifestEntry{
			Name: con.Name, Kind: con.Kind.String(), Page: con.Page, Offset: con.Offset,
			Scale: con.Scale, Translate: con.Translate,
		})
	}

	byPage := make(map[int][]XMLConst)
	for _, name := range names {
		con := def.Constants[name]
		val, err := encodeValue(c, con)
		if err != nil {
			return nil, fmt.Errorf("tunefile: save %q: %w", name, err)
		}
		byPage[con.Page] = append(byPage[con.Page], XMLConst{Name: name, Value: val})
	}
	pageNums := make([]int, 0, len(byPage))
	for p := range byPage {
		pageNums = append(pageNums, p)
	}
	sort.Ints(pageNums)
	for _, p := range pageNums {
		doc.Pages = append(doc.Pages, Page{Number: p, Constants: byPage[p]})
	}

	pcNames := make([]string, 0, len(def.PCVars))
	for name := range def.PCVars {
		pcNames = append(pcNames, name)
	}
	sort.Strings(pcNames)
	for _, name := range pcNames {
		con := def.PCVars[name]
		val, err := encodeValue(c, con)
		if err != nil {
			return nil, fmt.Errorf("tunefile: save pcvar %q: %w", name, err)
		}
		doc.PCVariables = append(doc.PCVariables, PCVariable{Name: name, Value: val})
	}

	return doc, nil
}

// Marshal renders doc as indented XML with the standard declaration.
func Marshal(doc *Doc) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("tunefile: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes raw XML into a Doc without applying it to any cache.
func Parse(data []byte) (*Doc, error) {
	var doc Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tunefile: parse: %w", err)
	}
	return &doc, nil
}

// Load parses data and applies every constant/PC-variable value onto c,
// which must already be sized for def (cache.New(def)). It returns a
// MigrationReport describing whether doc's declared structural hash or
// signature diverges from def; a divergent report is not itself an error —
// the caller decides whether to proceed per spec §7.
func Load(def *definition.Definition, c *cache.Cache, data []byte) (*MigrationReport, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	report := &MigrationReport{}
	if doc.IniMetadata.Hash != "" && doc.IniMetadata.Hash != def.StructuralHash {
		report.StructuralHashChanged = true
		report.Detail = "tune was saved against a different definition structure"
	}
	if doc.IniMetadata.Signature != "" && classifyIncompatible(doc.IniMetadata.Signature, def.Signature) {
		report.Incompatible = true
		report.Detail = "tune signature does not match loaded definition signature"
	}

	for _, page := range doc.Pages {
		for _, xc := range page.Constants {
			con, ok := def.Constants[xc.Name]
			if !ok {
				continue // vendor/extension constant the definition no longer declares
			}
			if err := applyValue(c, con, xc.Value); err != nil {
				return report, fmt.Errorf("tunefile: load %q: %w", xc.Name, err)
			}
		}
		if page.PageData != "" {
			raw, err := hex.DecodeString(strings.TrimSpace(page.PageData))
			if err != nil {
				return report, fmt.Errorf("tunefile: load page %d pageData: %w", page.Number, err)
			}
			if err := c.LoadPage(page.Number, raw); err != nil {
				return report, fmt.Errorf("tunefile: load page %d: %w", page.Number, err)
			}
		}
	}
	for _, pv := range doc.PCVariables {
		con, ok := def.PCVars[pv.Name]
		if !ok {
			continue
		}
		if err := applyValue(c, con, pv.Value); err != nil {
			return report, fmt.Errorf("tunefile: load pcvar %q: %w", pv.Name, err)
		}
	}
	return report, nil
}

func classifyIncompatible(tuneSig, defSig string) bool {
	if tuneSig == defSig {
		return false
	}
	n := len(tuneSig)
	if len(defSig) < n {
		n = len(defSig)
	}
	common := 0
	for i := 0; i < n; i++ {
		if tuneSig[i] != defSig[i] {
			break
		}
		common++
	}
	return common < n/2
}

func encodeValue(c *cache.Cache, con *definition.Constant) (string, error) {
	switch con.Kind {
	case definition.KindArray:
		vals, err := c.ReadArray(con.Name)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return strings.Join(parts, " "), nil
	case definition.KindBitField:
		raw, err := c.ReadBits(con.Name)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(raw), nil
	case definition.KindString:
		return "", nil // strings are stored in constant arrays the parser doesn't model as text here
	default:
		v, err := c.ReadScalar(con.Name)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
}

func applyValue(c *cache.Cache, con *definition.Constant, raw string) error {
	switch con.Kind {
	case definition.KindArray:
		fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
		vals := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
		return c.WriteArray(con.Name, vals)
	case definition.KindBitField:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		return c.WriteBits(con.Name, n)
	case definition.KindString:
		return nil
	default:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return err
		}
		return c.WriteScalar(con.Name, v)
	}
}
