/*
This is the main application for the ersbackup tool.

ersbackup logs into a fleet of Avaya ERS switches over telnet and makes each
switch push its running configuration to a TFTP server.

Usage:

	ersbackup [flag]

Flags are:

	-configPathPrefix string
	      configuration path prefix
	-deviceDelete
	      delete device addresses specified in stdin
	-deviceImport
	      import device addresses from stdin
	-deviceList
	      list device addresses to stdout
	-disableStdoutLog
	      disable logging to stdout
	-hostsFile string
	      device address list used when the configuration holds no devices
	-logCheckInterval duration
	      interval for checking log file size
	-logMaxFiles int
	      number of log files to keep
	-logMaxSize int
	      size limit for log file
	-logPathPrefix string
	      log path prefix
	-reportPathPrefix string
	      batch report path prefix
	-repositoryPath string
	      repository path for per-device outcome history
	-runOnce
	      exit after backing up all devices once
	-s3region string
	      AWS S3 region
	-webAdminSave
	      allow saving settings from the web UI
	-webListen string
	      address:port for web UI

By default, ersbackup looks for these path prefixes under $ERSBACKUP_HOME:

	etc/ersbackup.conf.      (can be overridden with -configPathPrefix)
	log/ersbackup.log.       (can be overridden with -logPathPrefix)
	report/ersbackup.report. (can be overridden with -reportPathPrefix)
	repo                     (can be overridden with -repositoryPath)

If $ERSBACKUP_HOME is not defined, ersbackup home defaults to /var/ersbackup.

Configuration and report prefixes may point to Amazon S3:

	arn:aws:s3:::bucket/folder/ersbackup.report.

The login shared by all switches is taken from $ERSBACKUP_USER and
$ERSBACKUP_PASSWORD, or prompted for on the terminal.

Since root privileges are usually not needed, run the ersbackup application as a regular user.
*/
package main
