package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print record-store statistics",
	RunE: func(*cobra.Command, []string) error {
		stats := db.Stats()
		fmt.Printf("page mappings:        %d\n", stats.PageURLMappingCount)
		fmt.Printf("retained pages:       %d\n", stats.RetainedPageCount)
		fmt.Printf("icon records:         %d\n", stats.IconRecordCount)
		fmt.Printf("icon records w/ data: %d\n", stats.IconRecordWithData)
		return nil
	},
}

var removeAllCmd = &cobra.Command{
	Use:   "remove-all",
	Short: "Remove every icon and page mapping",
	RunE: func(*cobra.Command, []string) error {
		db.RemoveAllIcons()
		fmt.Println("remove-all requested")
		return nil
	},
}

var iconURLFlag string

var setIconURLCmd = &cobra.Command{
	Use:   "set-icon-url [pageURL]",
	Short: "Associate --icon-url with the given page URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if iconURLFlag == "" {
			return fmt.Errorf("--icon-url is required")
		}
		db.SetIconURLForPage(iconURLFlag, args[0])
		fmt.Printf("associated %s -> %s\n", args[0], iconURLFlag)
		return nil
	},
}

func init() {
	setIconURLCmd.Flags().StringVar(&iconURLFlag, "icon-url", "", "icon URL to associate")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the database open (sync worker running) until interrupted",
	RunE: func(*cobra.Command, []string) error {
		fmt.Println("icovaultd running, press Ctrl-C to stop")
		waitForSignal()
		return nil
	},
}
