package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lsprpc/internal/lsp"
)

var (
	defLanguage string
	defRoot     string
)

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <character>",
	Short: "Query a language server for a symbol definition",
	Long: `Starts the configured language server for the file's language, opens
the file, and asks for the definition of the symbol at the given
zero-based line and character.`,
	Args: cobra.ExactArgs(3),
	RunE: runDefinition,
}

func init() {
	definitionCmd.Flags().StringVarP(&defLanguage, "language", "l", "", "language ID (required)")
	definitionCmd.Flags().StringVar(&defRoot, "root", "", "workspace root (default: detected from the file's path)")
	definitionCmd.MarkFlagRequired("language")
	rootCmd.AddCommand(definitionCmd)
}

func runDefinition(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	line, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid line %q: %w", args[1], err)
	}
	character, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid character %q: %w", args[2], err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	cfg, err := lsp.LoadConfig(configPath)
	if err != nil {
		return err
	}
	serverCfg, err := cfg.ServerFor(defLanguage)
	if err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	root := defRoot
	if root == "" {
		root = lsp.FindWorkspaceRoot(path)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	srv := lsp.NewServer(serverCfg, defLanguage, log)
	if err := srv.Start(ctx, root); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Shutdown(context.Background())

	if err := srv.OpenDocument(path, string(content)); err != nil {
		return err
	}
	defer srv.CloseDocument(path)

	locs, err := srv.Definition(ctx, path, lsp.Position{Line: line, Character: character})
	if err != nil {
		return fmt.Errorf("definition: %w", err)
	}

	if len(locs) == 0 {
		fmt.Println("no definition found")
		return nil
	}
	for _, loc := range locs {
		fmt.Printf("%s:%d:%d\n", lsp.URIToFilePath(loc.URI), loc.Range.Start.Line, loc.Range.Start.Character)
	}
	return nil
}
