// Package slurm talks to the batch scheduler through its command line tools,
// optionally over SSH when the cluster head node is a different host. Job
// state is normalized into the tracker's uniform job view.
package slurm

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// Client is the scheduler contract consumed by the job service.
type Client interface {
	GetJob(ctx context.Context, slurmID int) (models.JobInfo, error)
	CancelJob(ctx context.Context, slurmID int) error
}

// squeueFormat selects job id, name, state, start time and elapsed time,
// pipe separated so names with commas survive.
const squeueFormat = "%A|%j|%T|%S|%M"

const squeueTimeLayout = "2006-01-02T15:04:05"

type CLIClientParams struct {
	// Host, when set, wraps every scheduler command in ssh <Host>.
	Host string

	SqueueBin  string
	ScancelBin string
}

// CLIClient shells out to squeue and scancel.
type CLIClient struct {
	host       string
	squeueBin  string
	scancelBin string

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewCLIClient(params CLIClientParams) *CLIClient {
	c := &CLIClient{
		host:       params.Host,
		squeueBin:  params.SqueueBin,
		scancelBin: params.ScancelBin,
		runCommand: runLocal,
	}
	if c.squeueBin == "" {
		c.squeueBin = "squeue"
	}
	if c.scancelBin == "" {
		c.scancelBin = "scancel"
	}
	return c
}

func runLocal(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (c *CLIClient) command(name string, args ...string) (string, []string) {
	if c.host == "" {
		return name, args
	}
	return "ssh", append([]string{c.host, name}, args...)
}

// GetJob queries the scheduler for one job. A job the scheduler no longer
// knows about is a back-end failure, not a missing entity: the tracker's row
// still exists and the caller decides what the silence means.
func (c *CLIClient) GetJob(ctx context.Context, slurmID int) (models.JobInfo, error) {
	name, args := c.command(c.squeueBin,
		"--jobs", strconv.Itoa(slurmID),
		"--states=all",
		"--noheader",
		"--format="+squeueFormat,
	)
	out, err := c.runCommand(ctx, name, args...)
	if err != nil {
		return models.JobInfo{}, tberrors.NewBackend(err, "squeue failed for job %d: %s", slurmID, strings.TrimSpace(string(out)))
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return models.JobInfo{}, tberrors.NewBackend(nil, "job %d is unknown to the scheduler", slurmID)
	}
	// squeue may print one line per array element; the first is enough here
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return parseSqueueLine(line)
}

// CancelJob is advisory: a failure is reported but the caller keeps the
// store-side cancellation authoritative.
func (c *CLIClient) CancelJob(ctx context.Context, slurmID int) error {
	name, args := c.command(c.scancelBin, strconv.Itoa(slurmID))
	out, err := c.runCommand(ctx, name, args...)
	if err != nil {
		return tberrors.NewBackend(err, "scancel failed for job %d: %s", slurmID, strings.TrimSpace(string(out)))
	}
	log.Ctx(ctx).Debug().Int("SlurmID", slurmID).Msg("cancelled scheduler job")
	return nil
}

func parseSqueueLine(line string) (models.JobInfo, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 5 {
		return models.JobInfo{}, tberrors.NewBackend(nil, "unexpected squeue output %q", line)
	}

	slurmID, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return models.JobInfo{}, tberrors.NewBackend(err, "unexpected squeue job id %q", fields[0])
	}

	info := models.JobInfo{
		SlurmID: slurmID,
		Name:    strings.TrimSpace(fields[1]),
		Status:  MapStatus(strings.TrimSpace(fields[2])),
	}

	if start := strings.TrimSpace(fields[3]); start != "" && start != "N/A" {
		startedAt, err := time.Parse(squeueTimeLayout, start)
		if err != nil {
			return models.JobInfo{}, tberrors.NewBackend(err, "unexpected squeue start time %q", start)
		}
		startedAt = startedAt.UTC()
		info.StartedAt = &startedAt
	}

	minutes, err := parseElapsedMinutes(strings.TrimSpace(fields[4]))
	if err != nil {
		return models.JobInfo{}, tberrors.NewBackend(err, "unexpected squeue elapsed time %q", fields[4])
	}
	info.ElapsedMinutes = minutes

	return info, nil
}

// parseElapsedMinutes reads squeue's elapsed format: MM:SS, HH:MM:SS or
// D-HH:MM:SS, reported in whole minutes.
func parseElapsedMinutes(elapsed string) (int, error) {
	if elapsed == "" || elapsed == "N/A" || elapsed == "INVALID" {
		return 0, nil
	}

	days := 0
	if i := strings.IndexByte(elapsed, '-'); i >= 0 {
		d, err := strconv.Atoi(elapsed[:i])
		if err != nil {
			return 0, fmt.Errorf("bad day count in %q", elapsed)
		}
		days = d
		elapsed = elapsed[i+1:]
	}

	parts := strings.Split(elapsed, ":")
	var hours, minutes int
	var err error
	switch len(parts) {
	case 2: // MM:SS
		minutes, err = strconv.Atoi(parts[0])
	case 3: // HH:MM:SS
		hours, err = strconv.Atoi(parts[0])
		if err == nil {
			minutes, err = strconv.Atoi(parts[1])
		}
	default:
		return 0, fmt.Errorf("bad elapsed time %q", elapsed)
	}
	if err != nil {
		return 0, fmt.Errorf("bad elapsed time %q", elapsed)
	}
	return days*24*60 + hours*60 + minutes, nil
}
