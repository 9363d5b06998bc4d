package main

// Options is the root command. Struct tags are read by github.com/jessevdk/go-flags.
type Options struct {
	Profile string `short:"p" long:"profile" description:"classification profile YAML (overrides CLASSIFIER_PROFILE)"`

	Run      RunCmd      `command:"run" description:"Extract, submit and wait for one classification batch"`
	Resume   ResumeCmd   `command:"resume" description:"Monitor and finish a previously submitted batch"`
	Schedule ScheduleCmd `command:"schedule" description:"Run the pipeline on a cron schedule until interrupted"`
}

type RunCmd struct {
	AllowDuplicate bool `long:"allow-duplicate" description:"submit even when the ledger holds an unfinished job for this profile and source"`
}

type ResumeCmd struct {
	JobID string `long:"job-id" required:"true" description:"batch job id recorded in the ledger"`
}

type ScheduleCmd struct {
	Cron           string `long:"cron" description:"5-field cron expression (overrides SCHEDULE)"`
	AllowDuplicate bool   `long:"allow-duplicate" description:"submit even when the ledger holds an unfinished job"`
}
