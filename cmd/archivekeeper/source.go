package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// sourceFlags holds the --source-type/--server-id/--server-name/--channel-*
// flags shared by every subcommand that operates on one archived source.
type sourceFlags struct {
	sourceType  string
	serverID    string
	serverName  string
	channelID   string
	channelName string
}

func addSourceFlags(cmd *cobra.Command, f *sourceFlags) {
	cmd.Flags().StringVar(&f.sourceType, "source-type", "", "source platform (discord, whatsapp, slack, telegram)")
	cmd.Flags().StringVar(&f.serverID, "server-id", "", "server/group id")
	cmd.Flags().StringVar(&f.serverName, "server-name", "", "server/group display name")
	cmd.Flags().StringVar(&f.channelID, "channel-id", "", "channel id (optional)")
	cmd.Flags().StringVar(&f.channelName, "channel-name", "", "channel display name (optional)")
	cmd.MarkFlagRequired("source-type")
	cmd.MarkFlagRequired("server-id")
	cmd.MarkFlagRequired("server-name")
}

func (f sourceFlags) toSource() (model.Source, error) {
	st := model.SourceType(f.sourceType)
	if !model.ValidSourceType(st) {
		return model.Source{}, fmt.Errorf("unknown source type %q", f.sourceType)
	}
	return model.Source{
		SourceType:  st,
		ServerID:    f.serverID,
		ServerName:  f.serverName,
		ChannelID:   f.channelID,
		ChannelName: f.channelName,
	}, nil
}
