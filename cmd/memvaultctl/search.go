package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/membership"
)

var (
	searchConfigPath  string
	searchIndexPath   string
	searchDataRoot    string
	searchQuery       string
	searchWorkspace   string
	searchTag         string
	searchSince       string
	searchUntil       string
	searchPrivacy     string
	searchTargetLevel string
	searchLimit       int
	searchSnippet     bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "run a hybrid keyword/FTS search over the metadata index, optionally fenced to a workspace",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(searchConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}

		dbPath := searchIndexPath
		if dbPath == "" {
			dbPath = cfg.IndexDBPath
		}
		db, err := index.Open(dbPath)
		if err != nil {
			die(exitValidation, "open index: %v", err)
		}
		defer db.Close()

		q := index.SearchQuery{
			Query:          searchQuery,
			Since:          searchSince,
			Until:          searchUntil,
			Tag:            searchTag,
			Privacy:        searchPrivacy,
			TargetLevel:    searchTargetLevel,
			IncludeSnippet: searchSnippet,
			Limit:          searchLimit,
		}

		if searchWorkspace != "" {
			dataRoot := searchDataRoot
			if dataRoot == "" {
				if root, ok := cfg.VaultRoots["default"]; ok {
					dataRoot = filepath.Dir(filepath.Dir(root))
				}
			}
			effective, _, err := membership.LoadEffectiveMembership(dataRoot, searchWorkspace)
			if err != nil {
				die(exitValidation, "load membership: %v", err)
			}
			ids := make([]string, 0, len(effective))
			for id := range effective {
				ids = append(ids, id)
			}
			q.AllowMUIDs = ids
		}

		results, err := db.Search(q)
		if err != nil {
			die(exitValidation, "search failed: %v", err)
		}
		printJSON(results)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	searchCmd.Flags().StringVar(&searchIndexPath, "index-db", "", "path to the sqlite metadata index")
	searchCmd.Flags().StringVar(&searchDataRoot, "data-root", "", "DATA_ROOT holding workspaces/membership.jsonl (defaults to derived from vault_roots.default)")
	searchCmd.Flags().StringVar(&searchQuery, "query", "", "keyword query; empty orders by time desc")
	searchCmd.Flags().StringVar(&searchWorkspace, "workspace", "", "fence results to this workspace's effective membership")
	searchCmd.Flags().StringVar(&searchTag, "tag", "", "filter by tag")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "ISO-8601 lower time bound")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "ISO-8601 upper time bound")
	searchCmd.Flags().StringVar(&searchPrivacy, "privacy", "", "filter by exact privacy level")
	searchCmd.Flags().StringVar(&searchTargetLevel, "target-level", "private", "viewer's privacy rank: public|org|private")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	searchCmd.Flags().BoolVar(&searchSnippet, "snippet", false, "include a windowed snippet around the query match")
}
