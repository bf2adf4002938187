package dev

// The firmware prints this row twice around the login banner.
const ersBanner = "***************************************************************"

const ersBackupDone = "ACG configuration generation completed"

func ln(s string) string {
	return s + "\n"
}

// avayaERSSteps drives the ESR menu firmware: dismiss banner, log in on the
// menu form, jump to the CLI, push the running config to TFTP, log out.
func avayaERSSteps() []Step {
	return []Step{
		{Name: "AwaitBanner1", Expect: ersBanner},
		{Name: "AwaitBanner2", Expect: ersBanner},
		{Name: "InjectEscape", Send: []string{ln(KeyCtrlY), KeyTab}},
		{Name: "SubmitUsername", Send: []string{ln("{{.User}}")}},
		{Name: "SubmitPassword", Send: []string{ln("{{.Password}}")}, Secret: true},
		{Name: "SelectMenuItem", Send: []string{ln(KeyMenuCommandLine)}},
		{Name: "CaptureHostnamePrompt", Expect: "#", Capture: true},
		{Name: "IssueBackupCommand", Send: []string{ln("copy running-config tftp address {{.TftpServer}} filename {{.Filename}}")}},
		{Name: "AwaitCompletion", Expect: ersBackupDone},
		{Name: "Logout", Send: []string{ln("exit"), ln(KeyMenuLogout)}, Cleanup: true},
	}
}

func registerModelAvayaERS(logger hasPrintf, t *ModelTable) {
	script, err := NewScript("avaya-ers", avayaERSSteps())
	if err != nil {
		logger.Printf("registerModelAvayaERS: %v", err)
		return
	}

	if err := t.SetModel(NewModel("avaya-ers", script), logger); err != nil {
		logger.Printf("registerModelAvayaERS: %v", err)
	}
}
