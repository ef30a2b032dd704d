// Package main provides the revlog CLI.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"revlog/internal/dag"
	"revlog/internal/event"
	"revlog/internal/gitrepo"
	"revlog/internal/timeline"
	"revlog/internal/visibility"
)

var rootCmd = &cobra.Command{
	Use:   "revlog",
	Short: "Event-sourced history layer for Git repositories",
	Long:  `revlog records commits, rewrites, and reference moves as an append-only event log, derives which commits are visible, hidden, or obsolete, and lets you query the commit graph with revsets and undo whole operations.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize revlog state in the current repository",
	RunE:  runInit,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Record new commits and reference moves since the last sync",
	RunE:  runSync,
}

var smartlogCmd = &cobra.Command{
	Use:     "smartlog",
	Aliases: []string{"sl"},
	Short:   "Show the graph of draft commits",
	RunE:    runSmartlog,
}

var queryCmd = &cobra.Command{
	Use:   "query <revset>",
	Short: "Evaluate a revset expression",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var hideCmd = &cobra.Command{
	Use:   "hide <revset>",
	Short: "Hide the selected commits",
	Args:  cobra.ExactArgs(1),
	RunE:  runHide,
}

var unhideCmd = &cobra.Command{
	Use:   "unhide <revset>",
	Short: "Unhide the selected commits",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnhide,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded transactions",
	RunE:  runHistory,
}

var (
	undoForce  bool
	undoDryRun bool
)

var undoCmd = &cobra.Command{
	Use:   "undo [transaction-id]",
	Short: "Undo a recorded transaction (the most recent by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUndo,
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Undo the most recent undo",
	RunE:  runRedo,
}

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage revset aliases",
}

var aliasSetCmd = &cobra.Command{
	Use:   "set <name> <expression>",
	Short: "Define a revset alias",
	Args:  cobra.ExactArgs(2),
	RunE:  runAliasSet,
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List revset aliases",
	RunE:  runAliasList,
}

var aliasRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a revset alias",
	Args:  cobra.ExactArgs(1),
	RunE:  runAliasRm,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Trim old event log transactions into the archive",
	RunE:  runGC,
}

func init() {
	undoCmd.Flags().BoolVar(&undoForce, "force", false, "undo even if references have diverged")
	undoCmd.Flags().BoolVar(&undoDryRun, "dry-run", false, "print the compensating events without applying them")
	aliasCmd.AddCommand(aliasSetCmd, aliasListCmd, aliasRmCmd)
	rootCmd.AddCommand(initCmd, syncCmd, smartlogCmd, queryCmd, hideCmd, unhideCmd, historyCmd, undoCmd, redoCmd, aliasCmd, gcCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openTimeline() (*timeline.Timeline, *gitrepo.Repository, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	repo, err := gitrepo.Open(cwd)
	if err != nil {
		return nil, nil, err
	}
	t, err := timeline.Open(cwd, repo)
	if err != nil {
		return nil, nil, err
	}
	return t, repo, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if _, err := gitrepo.Open(cwd); err != nil {
		return err
	}
	dir, err := timeline.Init(cwd)
	if err != nil {
		return err
	}
	fmt.Printf("initialized revlog state in %s\n", dir)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	txID, err := t.Sync()
	if err != nil {
		return err
	}
	if txID == 0 {
		fmt.Println("nothing to record")
		return nil
	}
	fmt.Printf("recorded transaction %d\n", txID)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	set, err := t.EvaluateRevset(args[0])
	if err != nil {
		return err
	}
	for _, id := range set.Sorted() {
		fmt.Println(id)
	}
	return nil
}

func runHide(cmd *cobra.Command, args []string) error {
	return toggleHidden(args[0], true)
}

func runUnhide(cmd *cobra.Command, args []string) error {
	return toggleHidden(args[0], false)
}

func toggleHidden(expr string, hide bool) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	set, err := t.EvaluateRevset(expr)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return fmt.Errorf("revset %q selects no commits", expr)
	}
	label := "hide"
	if !hide {
		label = "unhide"
	}
	tx := t.Begin(label)
	for _, id := range set.Sorted() {
		if hide {
			tx.Hide(id)
		} else {
			tx.Unhide(id)
		}
	}
	txID, err := tx.Commit()
	if err != nil {
		return err
	}
	fmt.Printf("%s %d commit(s) in transaction %d\n", label, set.Len(), txID)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	txs := t.Transactions()
	for i := len(txs) - 1; i >= 0; i-- {
		info := txs[i]
		when := time.UnixMilli(info.Time).Format("2006-01-02 15:04:05")
		fmt.Printf("%4d  %s  %-10s %d event(s)\n", info.ID, when, info.Label, info.Events)
	}
	return nil
}

func runUndo(cmd *cobra.Command, args []string) error {
	t, repo, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()

	var txID int64
	if len(args) == 1 {
		txID, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid transaction id %q", args[0])
		}
	} else {
		txs := t.Transactions()
		if len(txs) == 0 {
			return fmt.Errorf("nothing to undo")
		}
		txID = txs[len(txs)-1].ID
	}

	if undoDryRun {
		plan, err := t.PlanUndo(txID)
		if err != nil {
			return err
		}
		for _, ev := range plan {
			fmt.Println(ev)
		}
		return nil
	}

	newID, plan, err := t.Undo(txID, undoForce)
	if err != nil {
		return err
	}
	if err := applyRefMoves(repo, plan); err != nil {
		return err
	}
	fmt.Printf("undid transaction %d as transaction %d\n", txID, newID)
	return nil
}

// runRedo undoes the most recent undo transaction, restoring what that undo
// reverted.
func runRedo(cmd *cobra.Command, args []string) error {
	t, repo, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()

	txs := t.Transactions()
	var txID int64
	for i := len(txs) - 1; i >= 0; i-- {
		if strings.HasPrefix(txs[i].Label, "undo ") {
			txID = txs[i].ID
			break
		}
	}
	if txID == 0 {
		return fmt.Errorf("nothing to redo")
	}
	newID, plan, err := t.Undo(txID, false)
	if err != nil {
		return err
	}
	if err := applyRefMoves(repo, plan); err != nil {
		return err
	}
	fmt.Printf("redid transaction %d as transaction %d\n", txID, newID)
	return nil
}

// applyRefMoves carries a plan's branch moves back into the repository. HEAD
// is skipped: moving the working copy is the user's call.
func applyRefMoves(repo *gitrepo.Repository, plan []event.Event) error {
	for _, ev := range plan {
		if ev.Kind != event.KindReferenceUpdated || ev.Ref == "HEAD" {
			continue
		}
		if err := repo.SetBranch(ev.Ref, ev.NewTarget); err != nil {
			return err
		}
	}
	return nil
}

func runAliasSet(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	if err := t.DefineAlias(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("alias %s = %s\n", args[0], args[1])
	return nil
}

func runAliasList(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	aliases := t.Aliases()
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s = %s\n", name, aliases[name])
	}
	return nil
}

func runAliasRm(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	return t.RemoveAlias(args[0])
}

func runGC(cmd *cobra.Command, args []string) error {
	t, _, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()
	n, err := t.GC()
	if err != nil {
		return err
	}
	fmt.Printf("archived %d transaction(s)\n", n)
	return nil
}

func runSmartlog(cmd *cobra.Command, args []string) error {
	t, repo, err := openTimeline()
	if err != nil {
		return err
	}
	defer t.Close()

	draft, err := t.EvaluateRevset("draft()")
	if err != nil {
		return err
	}
	mainHead := t.Refs()[t.Config().MainBranch]
	show := draft
	if mainHead != "" {
		show = draft.Union(dag.NewSet(mainHead))
	}
	if show.Len() == 0 {
		fmt.Println("no commits to show (run sync first)")
		return nil
	}
	return printSmartlog(t, repo, show)
}

// printSmartlog renders the selected commits newest first, marking HEAD,
// obsolete commits, and branch pointers.
func printSmartlog(t *timeline.Timeline, repo *gitrepo.Repository, show dag.CommitSet) error {
	ordered, err := topoOrder(t.Graph(), show)
	if err != nil {
		return err
	}
	refs := t.Refs()
	byTarget := make(map[event.CommitID][]string)
	for name, target := range refs {
		if name != "HEAD" {
			byTarget[target] = append(byTarget[target], name)
		}
	}
	head := refs["HEAD"]

	for _, id := range ordered {
		marker := "◯"
		if id == head {
			marker = "◉"
		}
		if st, err := t.VisibilityOf(id); err == nil && st == visibility.Obsolete {
			marker = "✕"
		}
		info, err := repo.CommitInfo(id)
		line := "(unknown commit)"
		if err == nil {
			line = firstLine(info.Message)
		}
		decorations := ""
		if names := byTarget[id]; len(names) > 0 {
			sort.Strings(names)
			decorations = fmt.Sprintf(" (%s)", strings.Join(names, ", "))
		}
		fmt.Printf("%s %s%s %s\n", marker, shortID(id), decorations, line)
	}
	return nil
}

// topoOrder sorts set children before parents, ties broken by id so output
// is stable. A commit's in-set ancestor count orders it after everything
// that contributed to it.
func topoOrder(g *dag.Graph, set dag.CommitSet) ([]event.CommitID, error) {
	depth := make(map[event.CommitID]int, set.Len())
	for id := range set {
		anc, err := g.Ancestors(dag.NewSet(id))
		if err != nil {
			return nil, err
		}
		depth[id] = anc.Intersect(set).Len()
	}
	ids := set.Sorted()
	sort.SliceStable(ids, func(i, j int) bool { return depth[ids[i]] > depth[ids[j]] })
	return ids, nil
}

func shortID(id event.CommitID) string {
	if len(id) > 10 {
		return string(id[:10])
	}
	return string(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
