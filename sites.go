package main

import (
	"os"

	"github.com/spf13/cobra"
)

type siteView struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Storage string `json:"storage"`
}

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List admitted catalog sites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			engine, err := newEngine(cc, newCatalogClient(cc), nil, nil)
			if err != nil {
				return err
			}

			sites, err := engine.Sites(cmd.Context())
			if err != nil {
				return err
			}

			views := make([]siteView, len(sites))
			for i, s := range sites {
				views[i] = siteView{Name: s.Name, Host: s.Host, Storage: string(s.Storage)}
			}

			if cc.Flags.JSON {
				return printJSON(os.Stdout, views)
			}

			rows := make([][]string, len(views))
			for i, v := range views {
				rows[i] = []string{v.Name, v.Host, v.Storage}
			}

			printTable(os.Stdout, []string{"NAME", "HOST", "STORAGE"}, rows)

			return nil
		},
	}
}
