package definition

import "strconv"

// parseOutputChannelLine parses one [OutputChannels] entry:
//
//	name = dataType, offset, scale, translate, "units"
func parseOutputChannelLine(name string, fields []string) (*OutputChannel, error) {
	if len(fields) < 2 {
		return nil, defErr("output channel %q: too few fields", name)
	}
	kind, err := parseDataKind(fields[0])
	if err != nil {
		return nil, defErr("output channel %q: %v", name, err)
	}
	offset, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, defErr("output channel %q: bad offset %q", name, fields[1])
	}
	oc := &OutputChannel{Name: name, Offset: offset, Kind: kind, Scale: 1}
	if len(fields) > 2 {
		oc.Scale = evalConstField(fields[2], 1)
	}
	if len(fields) > 3 {
		oc.Translate = evalConstField(fields[3], 0)
	}
	if len(fields) > 4 {
		oc.Units = unquote(fields[4])
	}
	return oc, nil
}
