package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/icza/gowut/gwu"

	"github.com/udhos/ersbackup/conf"
	"github.com/udhos/ersbackup/dev"
	"github.com/udhos/ersbackup/store"
)

func newAccPanel() gwu.Panel {
	ap := gwu.NewHorizontalPanel()
	ap.Style().AddClass("account_panel")

	ap.Add(gwu.NewLabel(fmt.Sprintf("%s %s", appName, appVersion)))

	home := gwu.NewLink("Home", "home")
	home.SetTarget("")
	ap.Add(home)

	admin := gwu.NewLink("Settings", "admin")
	admin.SetTarget("")
	ap.Add(admin)

	return ap
}

func newWin(ers *app, path, name string) gwu.Window {
	win := gwu.NewWindow(path, name)
	ers.logf("window=[%s] created", path)
	return win
}

func timestampString(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.Format("2006-01-02 15:04:05")
}

func durationSecString(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func splitBufLines(b []byte) []string {
	list := strings.Split(string(b), "\n")
	last := len(list) - 1
	if last < 0 {
		return list
	}
	if list[last] == "" {
		return list[:last]
	}
	return list
}

func errlogWinName(address string) string {
	return "errlog-" + address
}

// batchSummary renders the counters of the last batch.
func batchSummary(r *dev.BatchResult, reportPath string, running bool) string {
	state := ""
	if running {
		state = " (batch running)"
	}
	if r == nil {
		return "No batch finished yet" + state
	}
	s := fmt.Sprintf("Last batch: begin=%s elapsed=%s success=%d failure=%d skipped=%d",
		timestampString(r.Begin), durationSecString(r.End.Sub(r.Begin)), r.Successful, r.Failed, r.Skipped)
	if r.Cancelled {
		s += fmt.Sprintf(" cancelled (interrupted=%d)", r.Interrupted)
	}
	if reportPath != "" {
		s += " report=" + reportPath
	}
	return s + state
}

func buildErrlogWindow(ers *app, e gwu.Event, address string) string {
	winName := errlogWinName(address)
	s := e.Session()
	if win := s.WinByName(winName); win != nil {
		return winName
	}

	winTitle := "Device: " + address
	win := newWin(ers, winName, winTitle)
	win.Add(newAccPanel())
	win.Add(gwu.NewLabel(winTitle))

	refreshButton := gwu.NewButton("Refresh")
	win.Add(refreshButton)

	logPanel := gwu.NewPanel()
	win.Add(logPanel)

	loadLog := func() {
		logPath := dev.ErrlogPath(ers.repositoryPath, address)
		logPanel.Clear()
		logPanel.Add(gwu.NewLabel("File: " + logPath))

		buf, readErr := store.FileRead(logPath)
		if readErr != nil {
			logPanel.Add(gwu.NewLabel(fmt.Sprintf("Could not read error log: %v", readErr)))
			return
		}

		for _, line := range splitBufLines(buf) {
			logPanel.Add(gwu.NewLabel(line))
		}
	}

	loadLog()

	refresh := func(e gwu.Event) {
		loadLog()
		e.MarkDirty(logPanel)
	}

	refreshButton.AddEHandlerFunc(refresh, gwu.ETypeClick)
	win.AddEHandlerFunc(refresh, gwu.ETypeWinLoad)

	s.AddWin(win)

	return winName
}

func buildBatchTable(ers *app, t gwu.Table, tabSumm gwu.Panel) {
	const COLS = 8

	r, reportPath, running := ers.lastBatch()

	row := 0 // header
	t.Add(gwu.NewLabel("Address"), row, 0)
	t.Add(gwu.NewLabel("Hostname"), row, 1)
	t.Add(gwu.NewLabel("Status"), row, 2)
	t.Add(gwu.NewLabel("Failed Step"), row, 3)
	t.Add(gwu.NewLabel("Detail"), row, 4)
	t.Add(gwu.NewLabel("Timestamp"), row, 5)
	t.Add(gwu.NewLabel("Elapsed"), row, 6)
	t.Add(gwu.NewLabel("History"), row, 7)

	row = 1

	if r != nil {
		for _, o := range r.Outcomes {

			status := gwu.NewLabel(o.Status.String())
			if o.Success() {
				status.Style().SetColor(gwu.ClrGreen)
			} else {
				status.Style().SetColor(gwu.ClrRed)
			}

			buttonLog := gwu.NewButton("Error Log")
			address := o.Address // for closure below
			buttonLog.AddEHandlerFunc(func(e gwu.Event) {
				winName := buildErrlogWindow(ers, e, address)
				e.ReloadWin(winName)
			}, gwu.ETypeClick)

			t.Add(gwu.NewLabel(o.Address), row, 0)
			t.Add(gwu.NewLabel(o.Hostname), row, 1)
			t.Add(status, row, 2)
			t.Add(gwu.NewLabel(o.Step), row, 3)
			t.Add(gwu.NewLabel(o.Detail), row, 4)
			t.Add(gwu.NewLabel(timestampString(o.Timestamp)), row, 5)
			t.Add(gwu.NewLabel(durationSecString(o.Elapsed())), row, 6)
			t.Add(buttonLog, row, 7)

			row++
		}
	}

	for i := 0; i < row; i++ {
		for j := 0; j < COLS; j++ {
			t.CellFmt(i, j).Style().AddClass("device_table_cell")
		}
	}

	tabSumm.Clear()
	tabSumm.Add(gwu.NewLabel(batchSummary(r, reportPath, running)))
}

func refreshBatchTable(ers *app, t gwu.Table, tabSumm gwu.Panel, e gwu.Event) {
	t.Clear() // clear out table contents
	buildBatchTable(ers, t, tabSumm)
	e.MarkDirty(t)
	e.MarkDirty(tabSumm)
}

func buildHomeWin(ers *app, s gwu.Session) {

	winName := fmt.Sprintf("%s home", appName)
	win := newWin(ers, "home", winName)

	win.Add(newAccPanel())

	l := gwu.NewLabel(winName)
	l.Style().SetFontWeight(gwu.FontWeightBold).SetFontSize("130%")
	win.Add(l)

	tableSumm := gwu.NewPanel()
	t := gwu.NewTable()
	t.Style().AddClass("device_table")

	refresh := func(e gwu.Event) {
		refreshBatchTable(ers, t, tableSumm, e)
	}

	runMsg := gwu.NewLabel("")

	buttons := gwu.NewHorizontalPanel()

	refreshButton := gwu.NewButton("Refresh")
	refreshButton.AddEHandlerFunc(refresh, gwu.ETypeClick)
	buttons.Add(refreshButton)

	runButton := gwu.NewButton("Run now")
	runButton.AddEHandlerFunc(func(e gwu.Event) {
		if requestRun(ers) {
			runMsg.SetText(fmt.Sprintf("Batch requested at %s", timestampString(time.Now())))
		} else {
			runMsg.SetText("A batch request is already pending")
		}
		e.MarkDirty(runMsg)
		refresh(e)
	}, gwu.ETypeClick)
	buttons.Add(runButton)
	buttons.Add(runMsg)

	win.Add(buttons)

	win.AddEHandlerFunc(refresh, gwu.ETypeWinLoad)

	buildBatchTable(ers, t, tableSumm)

	win.Add(tableSumm)
	win.Add(t)

	s.AddWin(win)

	ers.winHome = win
}

func buildAdminWin(ers *app, s gwu.Session) {

	winName := fmt.Sprintf("%s settings", appName)

	win := newWin(ers, "admin", winName)

	win.Style().SetFullWidth()
	win.SetCellPadding(2)

	win.Add(newAccPanel())

	settingsPanel := gwu.NewPanel()
	settingsButtonRefresh := gwu.NewButton("Refresh")
	settingsButtonSave := gwu.NewButton("Save")
	settingsMsg := gwu.NewLabel("No error")
	settingsFile := gwu.NewLabel("Save file")
	settingsText := gwu.NewTextBox("Text Box")
	settingsText.SetRows(20)
	settingsText.SetCols(70)
	devicesLabel := gwu.NewLabel("")
	settingsPanel.Add(gwu.NewLabel("Global Settings"))
	settingsPanel.Add(settingsButtonRefresh)
	settingsPanel.Add(settingsButtonSave)
	settingsPanel.Add(settingsMsg)
	settingsPanel.Add(settingsFile)
	settingsPanel.Add(settingsText)
	settingsPanel.Add(devicesLabel)

	settingsButtonSave.SetEnabled(ers.webAdminSave)
	settingsText.SetReadOnly(!ers.webAdminSave)

	load := func() {

		showFile, lastErr := store.FindLastConfig(ers.configPathPrefix, ers.logger)
		if lastErr != nil {
			showFile = fmt.Sprintf("Could not find last config file: %v", lastErr)
		}

		settingsFile.SetText(fmt.Sprintf("File: %s", showFile))

		devicesLabel.SetText(fmt.Sprintf("Configured devices: %d (hosts file: %s)", len(ers.listDevices()), ers.hostsFile))

		opt := ers.options.Get()
		b, dumpErr := opt.Dump()
		if dumpErr != nil {
			settingsText.SetText(fmt.Sprintf("Could not get settings: %v", dumpErr))
			return
		}

		settingsText.SetText(string(b))
	}

	load() // first run

	refresh := func(e gwu.Event) {
		defer e.MarkDirty(settingsPanel)
		load()
	}

	settingsButtonRefresh.AddEHandlerFunc(refresh, gwu.ETypeClick)

	settingsButtonSave.AddEHandlerFunc(func(e gwu.Event) {

		if !ers.webAdminSave {
			return // refuse to save
		}

		defer e.MarkDirty(settingsPanel)

		opt, parseErr := conf.NewAppConfigFromString(settingsText.Text())
		if parseErr != nil {
			settingsMsg.SetText(fmt.Sprintf("Parsing error: %v", parseErr))
			return
		}

		if err := opt.Validate(); err != nil {
			settingsMsg.SetText(fmt.Sprintf("Invalid settings: %v", err))
			return
		}

		if _, err := ers.table.GetModel(opt.Model); err != nil {
			settingsMsg.SetText(fmt.Sprintf("Invalid settings: %v (known models: %v)", err, ers.table.ListModels()))
			return
		}

		change := conf.Change{
			From: eventRemoteAddress(e),
			By:   "web",
			When: time.Now(),
		}

		ers.options.Set(opt)    // takes effect on the next batch
		saveConfig(ers, change) // also records the change

		load()

		settingsMsg.SetText("Saved.")

	}, gwu.ETypeClick)

	win.Add(settingsPanel)

	win.AddEHandlerFunc(refresh, gwu.ETypeWinLoad)

	s.AddWin(win)

	ers.winAdmin = win
}

func eventRemoteAddress(e gwu.Event) string {
	if hrr, ok := e.(gwu.HasRequestResponse); ok {
		req := hrr.Request()
		return req.RemoteAddr
	}
	return "(remoteAddress?)"
}

func buildPublicWins(ers *app, s gwu.Session) {
	buildAdminWin(ers, s)
	buildHomeWin(ers, s)
}
