package definition

import (
	"io"
	"strconv"
	"strings"
)

// knownSections lists sections this parser actively interprets via
// key=value assignments. Anything else (GaugeConfigurations, UserDefined,
// UiDialogs, SettingGroups, SettingContextHelp, vendor extensions) is
// preserved verbatim in Definition.UnknownSections instead.
var knownSections = map[string]bool{
	"megatune": true, "tunerstudio": true,
	"constants": true, "pcvariables": true,
	"tableeditor": true, "curveeditor": true,
	"outputchannels": true,
	"menu":           true,
	"defaults":       true,
}

// Load parses a definition file in full. Sections the parser does not
// interpret (GaugeConfigurations, UserDefined/UiDialogs, SettingGroups,
// SettingContextHelp, and any vendor-added section) are preserved verbatim
// in Definition.UnknownSections so a round-trip save doesn't silently drop
// them; sections this parser does interpret (Constants, PcVariables,
// TableEditor, CurveEditor, OutputChannels, Menu, Defaults, and the
// header) drive the typed catalog other components
// consume.
func Load(r io.Reader) (*Definition, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	d := &Definition{
		Commands:        make(map[string]string),
		Constants:       make(map[string]*Constant),
		PCVars:          make(map[string]*Constant),
		Tables:          make(map[string]*Table),
		tablesByMap:     make(map[string]string),
		OutputChan:      make(map[string]*OutputChannel),
		DefaultValues:   make(map[string]float64),
		UnknownSections: make(map[string][]string),
	}

	cp := newConstantParser()
	pcp := newConstantParser()
	menu := newMenuBuilder()

	var explicitFamily string
	var pendingTables []struct {
		name   string
		fields []string
		line   int
	}

	section := ""
	for _, ln := range lines {
		if name, ok := sectionHeader(ln.text); ok {
			section = strings.ToLower(name)
			continue
		}
		key, fields, ok := splitAssignment(ln.text)
		if !ok {
			if !knownSections[section] {
				d.UnknownSections[section] = append(d.UnknownSections[section], ln.text)
			}
			continue
		}

		switch section {
		case "megatune", "tunerstudio":
			switch strings.ToLower(key) {
			case "signature":
				d.Signature = unquote(firstField(fields))
			case "ecufamily":
				explicitFamily = unquote(firstField(fields))
			case "pagesizes":
				for _, f := range fields {
					n, err := strconv.Atoi(strings.TrimSpace(f))
					if err != nil {
						return nil, defErrAt(ln.n, "bad pageSizes entry %q", f)
					}
					d.PageSizes = append(d.PageSizes, n)
				}
			case "pageactivationdelay":
				d.Timing.PageActivationDelayMS, _ = strconv.Atoi(strings.TrimSpace(firstField(fields)))
			case "interwritedelay":
				d.Timing.InterWriteDelayMS, _ = strconv.Atoi(strings.TrimSpace(firstField(fields)))
			case "delayafterportopen":
				d.Timing.DelayAfterPortOpenMS, _ = strconv.Atoi(strings.TrimSpace(firstField(fields)))
			case "ochblocksize":
				d.Timing.OCHBlockSize, _ = strconv.Atoi(strings.TrimSpace(firstField(fields)))
			case "endianness":
				if strings.EqualFold(strings.TrimSpace(unquote(firstField(fields))), "big") {
					d.Endianness = BigEndian
				} else {
					d.Endianness = LittleEndian
				}
			default:
				lowerKey := strings.ToLower(key)
				if strings.HasSuffix(lowerKey, "command") {
					d.Commands[lowerKey] = unquote(firstField(fields))
				} else {
					d.UnknownSections[section] = append(d.UnknownSections[section], ln.text)
				}
			}

		case "constants":
			if key == "page" {
				n, err := strconv.Atoi(strings.TrimSpace(firstField(fields)))
				if err != nil {
					return nil, defErrAt(ln.n, "bad page directive")
				}
				cp.setPage(n)
				continue
			}
			c, err := cp.parseLine(key, fields, false)
			if err != nil {
				return nil, defErrAt(ln.n, "%v", err)
			}
			d.Constants[key] = c

		case "pcvariables":
			c, err := pcp.parseLine(key, fields, true)
			if err != nil {
				return nil, defErrAt(ln.n, "%v", err)
			}
			d.PCVars[key] = c

		case "tableeditor", "curveeditor":
			// Tables may reference constants declared later in the file (the
			// dialect does not require [Constants] to precede [TableEditor]),
			// so defer resolution until the whole file has been scanned.
			pendingTables = append(pendingTables, struct {
				name   string
				fields []string
				line   int
			}{key, fields, ln.n})

		case "outputchannels":
			oc, err := parseOutputChannelLine(key, fields)
			if err != nil {
				return nil, defErrAt(ln.n, "%v", err)
			}
			d.OutputChan[key] = oc

		case "menu":
			if err := menu.addLine(key, fields); err != nil {
				return nil, defErrAt(ln.n, "%v", err)
			}

		case "defaults":
			if v, err := strconv.ParseFloat(strings.TrimSpace(firstField(fields)), 64); err == nil {
				d.DefaultValues[key] = v
			} else {
				d.DefaultValues[key] = evalConstField(firstField(fields), 0)
			}

		case "userdefined", "uidialogs":
			d.UnknownSections[section] = append(d.UnknownSections[section], ln.text)

		default:
			d.UnknownSections[section] = append(d.UnknownSections[section], ln.text)
		}
	}

	for _, pt := range pendingTables {
		t, err := parseTableLine(pt.name, pt.fields, d.Constants)
		if err != nil {
			return nil, defErrAt(pt.line, "%v", err)
		}
		d.Tables[t.LogicalName] = t
		d.tablesByMap[t.MapName] = t.LogicalName
	}

	d.MenuTree = menu.tree()
	d.ECUFamily = detectFamily(explicitFamily, d.Signature, len(d.PageSizes))
	d.StructuralHash = structuralHash(d)
	return d, nil
}

func sectionHeader(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") && len(line) > 2 {
		return line[1 : len(line)-1], true
	}
	return "", false
}

// splitAssignment splits "name = v1, v2, ..." into its key and
// comma-separated value fields.
func splitAssignment(line string) (key string, fields []string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", nil, false
	}
	key = strings.TrimSpace(line[:i])
	if key == "" {
		return "", nil, false
	}
	return key, splitFields(line[i+1:]), true
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
