package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/api"
	"github.com/a-marczewski/aifred/internal/app"
	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/intent"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/router"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models on the primary transport that pass a canary probe",
}

var modelsVerifyCmd = &cobra.Command{
	Use:   "verify [model...]",
	Short: "Probe specific model ids and print the ones that answer",
	Args:  cobra.MinimumNArgs(1),
}

var routeCmd = &cobra.Command{
	Use:   "route [text]",
	Short: "Explain the intent and route a message would get",
	Args:  cobra.MinimumNArgs(1),
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the memory vault",
}

var vaultIngestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Copy files into the vault and index them",
	Args:  cobra.MinimumNArgs(1),
}

var vaultSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search vault items, or list visible items without a query",
}

var vaultPinCmd = &cobra.Command{
	Use:   "pin [id]",
	Short: "Pin a vault item so it is always considered for context",
	Args:  cobra.ExactArgs(1),
}

var vaultHideCmd = &cobra.Command{
	Use:   "hide [id]",
	Short: "Hide a vault item from listings and retrieval",
	Args:  cobra.ExactArgs(1),
}

var vaultForgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Mark a vault item as forgotten",
	Args:  cobra.ExactArgs(1),
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or reset the learned user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the learned user profile as JSON",
}

var profileResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the learned user profile to defaults",
}

var personalityCmd = &cobra.Command{
	Use:   "personality",
	Short: "Manage the adaptive personality",
}

var personalityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the personality vector to neutral",
}

var personalityToggleCmd = &cobra.Command{
	Use:       "toggle [on|off]",
	Short:     "Enable or disable adaptive personality",
	ValidArgs: []string{"on", "off"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the conversation history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print recent conversation entries",
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation history and memory summary",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated turn statistics",
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostics on the configuration, storage and transports",
}

var (
	modelsRaw     bool
	vaultPinOff   bool
	vaultHideOff  bool
	historyLimit  int
	serveAddr     string
	statsSinceHrs int
	statsJSON     bool
)

func init() {
	modelsCmd.Flags().BoolVar(&modelsRaw, "raw", false, "List model ids without probing them")
	modelsCmd.AddCommand(modelsVerifyCmd)

	vaultPinCmd.Flags().BoolVar(&vaultPinOff, "off", false, "Unpin instead of pin")
	vaultHideCmd.Flags().BoolVar(&vaultHideOff, "off", false, "Unhide instead of hide")
	vaultCmd.AddCommand(vaultIngestCmd, vaultSearchCmd, vaultPinCmd, vaultHideCmd, vaultForgetCmd)

	profileCmd.AddCommand(profileShowCmd, profileResetCmd)
	personalityCmd.AddCommand(personalityResetCmd, personalityToggleCmd)

	historyShowCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 for all)")
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides api.addr)")

	statsCmd.Flags().IntVar(&statsSinceHrs, "since-hours", 0, "Only count turns from the last N hours")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the stats as JSON")
}

func runModelsCmd(a *app.App, cmd *cobra.Command, args []string) {
	if modelsRaw {
		ids, err := a.ListModels(a.Ctx)
		if err != nil {
			fmt.Printf("❌ Failed to list models: %v\n", err)
			exitCode = 1
			return
		}
		printList(ids)
		return
	}
	fmt.Println("Probing models...")
	printList(a.RefreshModels(a.Ctx))
	printVerifyStats(a)
}

func runModelsVerifyCmd(a *app.App, cmd *cobra.Command, args []string) {
	passed := a.Verifier.Verify(a.Ctx, args)
	printList(passed)
	printVerifyStats(a)
}

func printVerifyStats(a *app.App) {
	st := a.Verifier.GetStats()
	fmt.Printf("\nProbed %d, passed %d, failed %d, transport errors %d\n",
		st.Probed, st.Passed, st.Failed, st.Errors)
}

func printList(items []string) {
	if len(items) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, item := range items {
		fmt.Printf("  %s\n", item)
	}
}

func runRouteCmd(a *app.App, cmd *cobra.Command, args []string) {
	printRoute(a, strings.Join(args, " "))
}

func printRoute(a *app.App, text string) {
	sig, decision := a.Session.Explain(a.Ctx, text)
	fmt.Print(formatRoute(sig, decision))
}

func formatRoute(sig intent.Signal, d router.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s (%.2f)\n", sig.Primary.Label, sig.Primary.Score)
	if sig.Secondary != nil {
		fmt.Fprintf(&b, "Secondary: %s (%.2f)\n", sig.Secondary.Label, sig.Secondary.Score)
	}
	weights := sig.Weights.Map()
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(&b, "Weights:")
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%.2f", name, weights[name])
	}
	fmt.Fprintf(&b, "\nPrivate: %t  Web search: %t  Tools: %t\n", sig.IsPrivate, sig.WantsWebSearch, sig.WantsTools)
	fmt.Fprintf(&b, "Route: %s (%s)\n", d.Chosen, d.Reason)
	return b.String()
}

func runVaultIngestCmd(a *app.App, cmd *cobra.Command, args []string) {
	items, err := a.Session.IngestFiles(a.Ctx, args, "cli")
	if err != nil {
		fmt.Printf("❌ Ingest failed: %v\n", err)
		exitCode = 1
		return
	}
	fmt.Printf("✅ Ingested %d file(s)\n", len(items))
	printVaultItems(items)
}

func runVaultSearchCmd(a *app.App, cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")
	if query == "" {
		printVaultItems(a.Session.VaultItems())
		return
	}
	printVaultItems(a.Session.SearchVault(query))
}

func printVaultItems(items []memory.VaultItem) {
	if len(items) == 0 {
		fmt.Println("No vault items.")
		return
	}
	for _, item := range items {
		fmt.Println(formatVaultItem(item))
	}
}

func formatVaultItem(item memory.VaultItem) string {
	var flags []string
	if item.Pinned {
		flags = append(flags, "pinned")
	}
	if item.Hidden {
		flags = append(flags, "hidden")
	}
	if item.Forget {
		flags = append(flags, "forgotten")
	}
	line := fmt.Sprintf("  %s  %-6s %s  score=%.1f", shortID(item.ID), item.Type, item.Filename, item.Score)
	if len(flags) > 0 {
		line += "  [" + strings.Join(flags, ",") + "]"
	}
	if len(item.Tags) > 0 {
		line += "\n      tags: " + strings.Join(item.Tags, ", ")
	}
	return line
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func runVaultPinCmd(a *app.App, cmd *cobra.Command, args []string) {
	item, err := a.Session.SetPinned(a.Ctx, args[0], !vaultPinOff)
	reportVaultUpdate(item, err, "pinned", vaultPinOff)
}

func runVaultHideCmd(a *app.App, cmd *cobra.Command, args []string) {
	item, err := a.Session.SetHidden(a.Ctx, args[0], !vaultHideOff)
	reportVaultUpdate(item, err, "hidden", vaultHideOff)
}

func runVaultForgetCmd(a *app.App, cmd *cobra.Command, args []string) {
	item, err := a.Session.Forget(a.Ctx, args[0])
	reportVaultUpdate(item, err, "forgotten", false)
}

func reportVaultUpdate(item memory.VaultItem, err error, what string, undo bool) {
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		exitCode = 1
		return
	}
	if undo {
		what = "no longer " + what
	}
	fmt.Printf("✅ %s is %s\n", item.Filename, what)
}

func runProfileShowCmd(a *app.App, cmd *cobra.Command, args []string) {
	printJSON(a.Session.Profile())
}

func runProfileResetCmd(a *app.App, cmd *cobra.Command, args []string) {
	a.Session.ResetProfile(a.Ctx)
	fmt.Println("✅ Profile reset.")
}

func runPersonalityResetCmd(a *app.App, cmd *cobra.Command, args []string) {
	a.Session.ResetPersonality(a.Ctx)
	fmt.Println("✅ Personality reset.")
}

func runPersonalityToggleCmd(a *app.App, cmd *cobra.Command, args []string) {
	enabled := args[0] == "on"
	a.Session.SetPersonalityEnabled(a.Ctx, enabled)
	fmt.Printf("✅ Adaptive personality %s.\n", args[0])
}

func runHistoryShowCmd(a *app.App, cmd *cobra.Command, args []string) {
	entries := a.Session.History()
	if summary := a.Session.MemorySummary(); summary != "" {
		fmt.Printf("Memory summary:\n%s\n\n", summary)
	}
	for _, line := range formatHistory(entries, historyLimit) {
		fmt.Println(line)
	}
}

func formatHistory(entries []conversation.Entry, limit int) []string {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if content == "" && len(e.ToolCalls) > 0 {
			names := make([]string, 0, len(e.ToolCalls))
			for _, call := range e.ToolCalls {
				names = append(names, call.Function.Name)
			}
			content = "(calls " + strings.Join(names, ", ") + ")"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", e.Role, content))
	}
	return lines
}

func runHistoryClearCmd(a *app.App, cmd *cobra.Command, args []string) {
	a.Session.ClearHistory(a.Ctx)
	fmt.Println("✅ History cleared.")
}

func runServeCmd(a *app.App, cmd *cobra.Command, args []string) {
	addr := a.Core.Config.APIAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	server := api.NewServer(a.Session, a, a.Core.Logger.Named("api"), addr, a.Core.Config.MetricsEnabled)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	fmt.Printf("Serving on http://%s\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Core.Logger.Error("API server failed", zap.Error(err))
			fmt.Printf("❌ Server failed: %v\n", err)
			exitCode = 1
		}
		return
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.Core.Logger.Warn("API server shutdown failed", zap.Error(err))
	}
}

func runStatsCmd(a *app.App, cmd *cobra.Command, args []string) {
	var since time.Time
	if statsSinceHrs > 0 {
		since = time.Now().Add(-time.Duration(statsSinceHrs) * time.Hour)
	}
	stats, err := a.TurnStats(a.Ctx, since)
	if err != nil {
		fmt.Printf("❌ Failed to read stats: %v\n", err)
		exitCode = 1
		return
	}
	if statsJSON {
		printJSON(stats)
		return
	}
	fmt.Printf("Turns: %d\n", stats.Total)
	fmt.Printf("Average duration: %.0f ms\n", stats.AvgDurationMs)
	fmt.Printf("Average tool rounds: %.2f\n", stats.AvgToolRounds)
	printCounts("By outcome", stats.ByOutcome)
	printCounts("By route", stats.ByRoute)
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}
}

func runDoctorCmd(a *app.App, cmd *cobra.Command, args []string) {
	diag := a.Diagnose(a.Ctx)
	diag.PrintReport(os.Stdout)
	if diag.Status != "healthy" {
		exitCode = 1
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
	}
}
