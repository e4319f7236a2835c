package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"squint/internal/modules"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Manage MODULES.toml declarations",
}

var modulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter MODULES.toml",
	Long: `Writes an example declarations file at the repository root. An
existing file is never overwritten.`,
	Args: cobra.NoArgs,
	Run:  runModulesInit,
}

var modulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate MODULES.toml and list its declarations",
	Args:  cobra.NoArgs,
	Run:   runModulesCheck,
}

func init() {
	modulesCmd.AddCommand(modulesInitCmd, modulesCheckCmd)
	rootCmd.AddCommand(modulesCmd)
}

func (e *cliEnv) declarationPath() string {
	name := e.cfg.Modules.DeclarationFile
	if name == "" {
		name = modules.ModulesDeclarationFile
	}
	return filepath.Join(e.root, name)
}

func runModulesInit(cmd *cobra.Command, args []string) {
	env := mustSetup()
	path := env.declarationPath()
	if err := modules.CreateExampleModulesFile(path); err != nil {
		if errors.Is(err, os.ErrExist) {
			env.logger.Warn("Declarations file already exists, leaving it", "path", path)
			env.printDeclarations()
			return
		}
		fail(err)
	}
	printResponse(&ModulesResponseCLI{Path: path, Created: true, Modules: modules.ExampleModulesFile().Modules})
}

func runModulesCheck(cmd *cobra.Command, args []string) {
	mustSetup().printDeclarations()
}

func (e *cliEnv) printDeclarations() {
	path := e.declarationPath()
	decls, err := modules.LoadDeclarations(e.root, e.cfg.Modules.DeclarationFile)
	if err != nil {
		fail(err)
	}
	printResponse(&ModulesResponseCLI{Path: path, Modules: decls})
}
