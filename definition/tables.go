package definition

import "strconv"

// parseTableLine parses one [TableEditor] entry:
//
//	logicalName = mapName, zConstName, xConstName, yConstName, "Title", page[, xChannel, yChannel]
//
// yConstName may be the literal "-" for a 2D curve (no Y axis). xChannel and
// yChannel are optional realtime output-channel names the correction engine
// uses to locate a live sample's position on this table without being told
// explicitly each time.
func parseTableLine(logicalName string, fields []string, constants map[string]*Constant) (*Table, error) {
	if len(fields) < 6 {
		return nil, defErr("table %q: expected at least 6 fields, got %d", logicalName, len(fields))
	}
	mapName := fields[0]
	zName := fields[1]
	xName := fields[2]
	yName := fields[3]
	title := unquote(fields[4])
	page, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, defErr("table %q: bad page %q", logicalName, fields[5])
	}

	zc, ok := constants[zName]
	if !ok {
		return nil, defErr("table %q: unknown z constant %q", logicalName, zName)
	}
	xc, ok := constants[xName]
	if !ok {
		return nil, defErr("table %q: unknown x constant %q", logicalName, xName)
	}
	var yc *Constant
	if yName != "-" && yName != "" {
		yc, ok = constants[yName]
		if !ok {
			return nil, defErr("table %q: unknown y constant %q", logicalName, yName)
		}
	}

	t := &Table{
		LogicalName: logicalName,
		MapName:     mapName,
		Title:       title,
		Page:        page,
		ZConst:      zc,
		XConst:      xc,
		YConst:      yc,
		Cols:        xc.Shape,
		Rows:        1,
	}
	if yc != nil {
		t.Rows = yc.Shape
	}
	if t.ZConst.Shape != t.Rows*t.Cols {
		return nil, defErr("table %q: z grid has %d cells, expected %d (%d x %d)",
			logicalName, t.ZConst.Shape, t.Rows*t.Cols, t.Rows, t.Cols)
	}
	if len(fields) >= 8 {
		t.XChannel = fields[6]
		t.YChannel = fields[7]
	}
	return t, nil
}
