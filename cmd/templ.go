package cmd

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

const DESCRIPTION = `
ptauto polls streaming platforms on a cron schedule for every subscription,
downloads the episodes missing locally and moves finished files into the
season folders of the media directory.
`

const RunDescription = `Runs the watcher in the foreground until interrupted.

Only one watcher may run per data directory. Subscriptions added or changed
with "ptauto sub" while it runs are picked up at their next trigger; a
changed schedule takes effect after a restart.
`

const SubAddDescription = `Adds a subscription.

Example:
        ptauto sub add --platform index --url https://cdn.example/show.json \
                --title "Show" --episodes 12 --cron "0 */2 * * *"
`

const CheckDescription = `Runs one reconciliation pass for a subscription outside its schedule.

Prints the local and remote episodes. With --download the missing episodes
are downloaded right away, otherwise they are only listed.
`

const FetchDescription = `Downloads a single episode of a subscription into the download directory.
`
