package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/icza/gowut/gwu"
	"github.com/udhos/lockfile"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/udhos/ersbackup/conf"
	"github.com/udhos/ersbackup/dev"
	"github.com/udhos/ersbackup/store"
)

const appName = "ersbackup"
const appVersion = "0.1"

type app struct {
	configPathPrefix string
	repositoryPath   string
	logPathPrefix    string
	reportPathPrefix string
	hostsFile        string
	configLock       lockfile.Lockfile
	repositoryLock   lockfile.Lockfile
	logLock          lockfile.Lockfile

	table   *dev.ModelTable
	options *conf.Options

	devices     []string
	devicesLock sync.RWMutex

	cred dev.Credentials

	last       *dev.BatchResult
	lastReport string
	running    bool
	lastLock   sync.RWMutex

	runNow chan struct{}

	winHome      gwu.Window
	winAdmin     gwu.Window
	webAdminSave bool

	logger *log.Logger
}

type hasPrintf interface {
	Printf(fmt string, v ...interface{})
}

func (a *app) logf(fmt string, v ...interface{}) {
	a.logger.Printf(fmt, v...)
}

func newApp() *app {
	app := &app{
		table:   dev.NewModelTable(),
		options: conf.NewOptions(),
		logger:  log.New(os.Stdout, "", log.LstdFlags),
		runNow:  make(chan struct{}, 1),
	}

	return app
}

func defaultHomeDir() string {
	home := os.Getenv("ERSBACKUP_HOME")
	if home == "" {
		home = "/var/ersbackup"
	}
	return home
}

func defaultRegionName() string {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "sa-east-1"
	}
	return region
}

func addTrailingDot(path string) string {
	if path == "" || path[len(path)-1] != '.' {
		return path + "."
	}
	return path
}

func main() {

	ers := newApp()

	maxMainConfigLoadSize := int64(10000000) // 10M

	var runOnce bool
	var deviceImport bool
	var deviceDelete bool
	var deviceList bool
	var disableStdoutLog bool
	var logMaxFiles int
	var logMaxSize int64
	var logCheckInterval time.Duration
	var webListen string
	var s3region string

	defaultHome := defaultHomeDir()
	defaultConfigPrefix := filepath.Join(defaultHome, "etc", "ersbackup.conf.")
	defaultRepo := filepath.Join(defaultHome, "repo")
	defaultLogPrefix := filepath.Join(defaultHome, "log", "ersbackup.log.")
	defaultReportPrefix := filepath.Join(defaultHome, "report", "ersbackup.report.")

	flag.StringVar(&ers.configPathPrefix, "configPathPrefix", defaultConfigPrefix, "configuration path prefix")
	flag.StringVar(&ers.repositoryPath, "repositoryPath", defaultRepo, "repository path for per-device outcome history")
	flag.StringVar(&ers.logPathPrefix, "logPathPrefix", defaultLogPrefix, "log path prefix")
	flag.StringVar(&ers.reportPathPrefix, "reportPathPrefix", defaultReportPrefix, "batch report path prefix")
	flag.StringVar(&ers.hostsFile, "hostsFile", "hosts.txt", "device address list used when the configuration holds no devices")
	flag.StringVar(&webListen, "webListen", ":8080", "address:port for web UI")
	flag.StringVar(&s3region, "s3region", defaultRegionName(), "AWS S3 region")
	flag.BoolVar(&runOnce, "runOnce", false, "exit after backing up all devices once")
	flag.BoolVar(&deviceImport, "deviceImport", false, "import device addresses from stdin")
	flag.BoolVar(&deviceDelete, "deviceDelete", false, "delete device addresses specified in stdin")
	flag.BoolVar(&deviceList, "deviceList", false, "list device addresses to stdout")
	flag.BoolVar(&ers.webAdminSave, "webAdminSave", false, "allow saving settings from the web UI")
	flag.BoolVar(&disableStdoutLog, "disableStdoutLog", false, "disable logging to stdout")
	flag.IntVar(&logMaxFiles, "logMaxFiles", 20, "number of log files to keep")
	flag.Int64Var(&logMaxSize, "logMaxSize", 10000000, "size limit for log file")
	flag.DurationVar(&logCheckInterval, "logCheckInterval", time.Hour, "interval for checking log file size")
	flag.Parse()

	ers.logPathPrefix = addTrailingDot(ers.logPathPrefix)
	ers.configPathPrefix = addTrailingDot(ers.configPathPrefix)
	ers.reportPathPrefix = addTrailingDot(ers.reportPathPrefix)

	if store.S3Path(ers.logPathPrefix) {
		ers.logf("logging to Amazon S3 is not supported: %s", ers.logPathPrefix)
		return
	}

	if store.S3Path(ers.repositoryPath) {
		ers.logf("repository on Amazon S3 is not supported: %s", ers.repositoryPath)
		return
	}

	if err := makeDirs(ers); err != nil {
		ers.logf("main: %v", err)
		return
	}

	if lockErr := exclusiveLock(ers); lockErr != nil {
		ers.logf("main: could not get exclusive lock: %v", lockErr)
		panic("main: refusing to run without exclusive lock")
	}
	defer exclusiveUnlock(ers)

	fileLogger := NewLogfile(ers.logPathPrefix, logMaxFiles, logMaxSize, logCheckInterval)

	// ers.logger currently is stdout
	if disableStdoutLog {
		ers.logger = log.New(fileLogger, "", log.LstdFlags)
	} else {
		ers.logger = log.New(io.MultiWriter(os.Stdout, fileLogger), "", log.LstdFlags)
	}

	ers.logf("%s %s starting", appName, appVersion)

	dev.RegisterModels(ers.logger, ers.table)

	ers.logf("config path prefix: %s", ers.configPathPrefix)
	ers.logf("repository path: %s", ers.repositoryPath)
	ers.logf("report path prefix: %s", ers.reportPathPrefix)

	store.Init(ers.logger, s3region)

	if err := loadConfig(ers, maxMainConfigLoadSize); err != nil {
		ers.logf("main: %v", err)
		return
	}

	ers.logf("runOnce: %v", runOnce)
	opt := ers.options.Get()
	ers.logf("tftp server: %s", opt.TftpServer)
	ers.logf("model: %s transports: %s port: %d", opt.Model, opt.Transports, opt.Port)
	ers.logf("timeout: %s", opt.Timeout)
	ers.logf("scan interval: %s", opt.ScanInterval)
	ers.logf("maximum concurrency: %d", opt.MaxConcurrency)

	if exit := manageDeviceList(ers, os.Stdin, os.Stdout, deviceImport, deviceDelete, deviceList); exit != nil {
		ers.logf("main: %v", exit)
		return
	}

	cred, credErr := readCredentials(os.Stdin, os.Stdout)
	if credErr != nil {
		ers.logf("main: could not read credentials: %v", credErr)
		return
	}
	ers.cred = cred

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runOnce {
		runBatch(ctx, ers)
		ers.logf("runOnce: exiting after single batch")
		return
	}

	serverName := fmt.Sprintf("%s application", appName)

	// Create GUI server
	server := gwu.NewServer(appName, webListen)
	server.SetText(serverName)

	buildPublicWins(ers, server)

	server.SetLogger(ers.logger)

	go func() {
		if err := server.Start(); err != nil {
			ers.logf("main: could not start GUI server: %s", err)
		}
	}()

	scanLoop(ctx, ers)

	ers.logf("main: exiting: %v", ctx.Err())
}

func scanLoop(ctx context.Context, ers *app) {
	for {
		ers.logf("scanLoop: starting")
		opt := ers.options.Get()
		begin := time.Now()
		runBatch(ctx, ers)
		elap := time.Since(begin)
		sleep := opt.ScanInterval - elap
		if sleep < 1 {
			sleep = 0
		}
		ers.logf("scanLoop: sleeping for %s (target: scanInterval=%s)", sleep, opt.ScanInterval)
		select {
		case <-ctx.Done():
			return
		case <-ers.runNow:
			ers.logf("scanLoop: run now requested")
		case <-time.After(sleep):
		}
	}
}

// requestRun wakes up the scan loop, unless a request is already pending.
func requestRun(ers *app) bool {
	select {
	case ers.runNow <- struct{}{}:
		return true
	default:
		return false
	}
}

func makeDirs(ers *app) error {
	for _, prefix := range []string{ers.configPathPrefix, ers.logPathPrefix, ers.reportPathPrefix} {
		if err := store.MkDir(prefix); err != nil {
			return fmt.Errorf("makeDirs: %v", err)
		}
	}
	if err := os.MkdirAll(ers.repositoryPath, 0750); err != nil {
		return fmt.Errorf("makeDirs: %v", err)
	}
	return nil
}

func loadConfig(ers *app, maxSize int64) error {

	var cfg *conf.Config

	lastConfig, configErr := store.FindLastConfig(ers.configPathPrefix, ers.logger)
	if configErr != nil {
		ers.logf("error reading config: '%s': %v", ers.configPathPrefix, configErr)
		cfg = conf.New()
	} else {
		ers.logf("last config: %s", lastConfig)
		var loadErr error
		cfg, loadErr = loadConfigFile(lastConfig, maxSize)
		if loadErr != nil {
			return fmt.Errorf("could not load config: '%s': %v", lastConfig, loadErr)
		}
	}

	ers.options.Set(&cfg.Options)
	ers.setDevices(cfg.Devices)

	ers.logf("loadConfig: %d devices", len(cfg.Devices))

	return nil
}

func loadConfigFile(path string, maxSize int64) (*conf.Config, error) {
	if !store.S3Path(path) {
		return conf.Load(path, maxSize)
	}

	_, size, infoErr := store.FileInfo(path)
	if infoErr != nil {
		return nil, infoErr
	}
	if size > maxSize {
		return nil, fmt.Errorf("file size=%d exceeds limit=%d: %s", size, maxSize, path)
	}

	b, readErr := store.FileRead(path)
	if readErr != nil {
		return nil, readErr
	}

	return conf.NewConfigFromBytes(b)
}

func saveConfig(ers *app, change conf.Change) {

	var cfg conf.Config
	cfg.Options = *ers.options.Get() // clone
	cfg.Options.LastChange = change  // record change
	ers.options.Set(&cfg.Options)    // update
	cfg.Devices = ers.listDevices()

	confWriteFunc := func(w store.HasWrite) error {
		b, err := cfg.Dump()
		if err != nil {
			return err
		}
		n, wrErr := w.Write(b)
		if wrErr != nil {
			return wrErr
		}
		if n != len(b) {
			return fmt.Errorf("saveConfig: partial write: wrote=%d size=%d", n, len(b))
		}
		return nil
	}

	path, saveErr := store.SaveNewConfig(ers.configPathPrefix, cfg.Options.MaxConfigFiles, ers.logger, confWriteFunc, true, "application/x-yaml")
	if saveErr != nil {
		ers.logf("main: could not save config: %v", saveErr)
		return
	}

	ers.logf("main: config saved: %s", path)
}

func (a *app) setDevices(list []string) {
	a.devicesLock.Lock()
	defer a.devicesLock.Unlock()
	a.devices = append([]string(nil), list...)
}

func (a *app) listDevices() []string {
	a.devicesLock.RLock()
	defer a.devicesLock.RUnlock()
	return append([]string(nil), a.devices...)
}

// readAddresses reads one address per line for device list management:
// surrounding blanks are trimmed, empty lines and # comments ignored.
func readAddresses(r io.Reader) ([]string, error) {
	var list []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			continue
		}
		list = append(list, text)
	}
	return list, scanner.Err()
}

// mergeDevices appends the addresses missing from list, preserving order.
func mergeDevices(list, add []string) []string {
	seen := map[string]bool{}
	for _, d := range list {
		seen[d] = true
	}
	result := append([]string(nil), list...)
	for _, d := range add {
		if seen[d] {
			continue
		}
		seen[d] = true
		result = append(result, d)
	}
	return result
}

// removeDevices drops every address of del from list, preserving order.
func removeDevices(list, del []string) []string {
	drop := map[string]bool{}
	for _, d := range del {
		drop[d] = true
	}
	var result []string
	for _, d := range list {
		if !drop[d] {
			result = append(result, d)
		}
	}
	return result
}

func sameDevices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func manageDeviceList(ers *app, in io.Reader, out io.Writer, imp, del, list bool) error {
	if imp && del {
		return fmt.Errorf("deviceImport and deviceDelete are mutually exclusive")
	}

	if imp || del {
		ers.logf("main: reading device list from stdin")

		addresses, inErr := readAddresses(in)
		if inErr != nil {
			return fmt.Errorf("stdin error: %v", inErr)
		}

		for _, d := range addresses {
			if !dev.IsValidAddress(d) {
				ers.logf("main: warning: malformed address will be skipped by backups: [%s]", d)
			}
		}

		current := ers.listDevices()
		by := "deviceImport"
		if imp {
			ers.setDevices(mergeDevices(current, addresses))
		} else {
			ers.setDevices(removeDevices(current, addresses))
			by = "deviceDelete"
		}

		after := ers.listDevices()
		ers.logf("main: devices: before=%d after=%d", len(current), len(after))

		if sameDevices(current, after) {
			ers.logf("main: device list unchanged, not saving config")
		} else {
			saveConfig(ers, conf.Change{When: time.Now(), By: by, From: "stdin"})
		}
	}

	if list {
		devices := ers.listDevices()

		ers.logf("main: issuing device list to stdout: %d devices", len(devices))

		for _, d := range devices {
			fmt.Fprintln(out, d)
		}
	}

	if imp || del || list {
		return fmt.Errorf("device list management done")
	}

	return nil
}

// loadDevices returns the configured devices or, when there are none,
// the contents of the hosts file.
func loadDevices(ers *app) ([]string, error) {
	if list := ers.listDevices(); len(list) > 0 {
		return list, nil
	}

	f, openErr := os.Open(ers.hostsFile)
	if openErr != nil {
		return nil, fmt.Errorf("loadDevices: no configured devices and could not open hosts file: %v", openErr)
	}
	defer f.Close()

	list, readErr := dev.ReadDeviceList(f)
	if readErr != nil {
		return nil, fmt.Errorf("loadDevices: %s: %v", ers.hostsFile, readErr)
	}

	ers.logf("loadDevices: %d lines from hosts file: %s", len(list), ers.hostsFile)

	return list, nil
}

// readCredentials gets the shared login from ERSBACKUP_USER/ERSBACKUP_PASSWORD
// or prompts for it. The password is not echoed when stdin is a terminal.
func readCredentials(in *os.File, out io.Writer) (dev.Credentials, error) {
	cred := dev.Credentials{
		User:     os.Getenv("ERSBACKUP_USER"),
		Password: os.Getenv("ERSBACKUP_PASSWORD"),
	}

	reader := bufio.NewReader(in)

	if cred.User == "" {
		fmt.Fprint(out, "Enter your remote account: ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return cred, err
		}
		cred.User = strings.TrimRight(line, "\r\n")
	}

	if cred.Password == "" {
		fmt.Fprint(out, "Password: ")
		fd := int(in.Fd())
		if terminal.IsTerminal(fd) {
			pass, err := terminal.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				return cred, err
			}
			cred.Password = string(pass)
		} else {
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return cred, err
			}
			cred.Password = strings.TrimRight(line, "\r\n")
		}
	}

	if cred.User == "" {
		return cred, fmt.Errorf("empty username")
	}

	return cred, nil
}

func exclusiveLock(ers *app) error {
	configLockPath := fmt.Sprintf("%slock", ers.configPathPrefix)
	if !store.S3Path(configLockPath) {
		var newErr error
		if ers.configLock, newErr = lockfile.New(configLockPath); newErr != nil {
			return fmt.Errorf("exclusiveLock: new failure: '%s': %v", configLockPath, newErr)
		}
		if err := ers.configLock.TryLock(); err != nil {
			return fmt.Errorf("exclusiveLock: lock failure: '%s': %v", configLockPath, err)
		}
	}

	repositoryLockPath := filepath.Join(ers.repositoryPath, "lock")
	var newErr error
	if ers.repositoryLock, newErr = lockfile.New(repositoryLockPath); newErr != nil {
		unlockConfig(ers)
		return fmt.Errorf("exclusiveLock: new failure: '%s': %v", repositoryLockPath, newErr)
	}
	if err := ers.repositoryLock.TryLock(); err != nil {
		unlockConfig(ers)
		return fmt.Errorf("exclusiveLock: lock failure: '%s': %v", repositoryLockPath, err)
	}

	logLockPath := fmt.Sprintf("%slock", ers.logPathPrefix)
	if ers.logLock, newErr = lockfile.New(logLockPath); newErr != nil {
		unlockConfig(ers)
		ers.repositoryLock.Unlock()
		return fmt.Errorf("exclusiveLock: new failure: '%s': %v", logLockPath, newErr)
	}
	if err := ers.logLock.TryLock(); err != nil {
		unlockConfig(ers)
		ers.repositoryLock.Unlock()
		return fmt.Errorf("exclusiveLock: lock failure: '%s': %v", logLockPath, err)
	}

	return nil
}

func unlockConfig(ers *app) {
	configLockPath := fmt.Sprintf("%slock", ers.configPathPrefix)
	if !store.S3Path(configLockPath) {
		if err := ers.configLock.Unlock(); err != nil {
			ers.logger.Printf("exclusiveUnlock: '%s': %v", configLockPath, err)
		}
	}
}

func exclusiveUnlock(ers *app) {
	unlockConfig(ers)

	repositoryLockPath := filepath.Join(ers.repositoryPath, "lock")
	if err := ers.repositoryLock.Unlock(); err != nil {
		ers.logger.Printf("exclusiveUnlock: '%s': %v", repositoryLockPath, err)
	}

	logLockPath := fmt.Sprintf("%slock", ers.logPathPrefix)
	if err := ers.logLock.Unlock(); err != nil {
		ers.logger.Printf("exclusiveUnlock: '%s': %v", logLockPath, err)
	}
}
