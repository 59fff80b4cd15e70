package main

import (
	"errors"
	"fmt"
	"io"
	"pagesum/internal/app"
	"pagesum/internal/domain"
	"pagesum/internal/store"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04"

// Run executes the summarise command.
func (c *SummariseCmd) Run(deps *Dependencies) error {
	text := strings.TrimSpace(strings.Join(c.Input, " "))
	mode := domain.Mode(c.Mode)

	target := text
	if _, ok := store.SanitizeURL(text); !ok {
		urls := findURLs(text)
		if len(urls) == 0 {
			res, err := deps.App.SummariseText(deps.Ctx, text, mode)
			if err != nil {
				return err
			}

			printResult(deps.Stdout, res, deps.App.Remaining())
			return nil
		}
		target = urls[0]
	}

	res, err := deps.App.Summarise(deps.Ctx, target, mode)
	if err != nil {
		return err
	}

	printResult(deps.Stdout, res, deps.App.Remaining())
	return nil
}

// Run executes the refresh command.
func (c *RefreshCmd) Run(deps *Dependencies) error {
	article, err := deps.App.Refresh(deps.Ctx, c.URL)
	if err != nil {
		return err
	}

	fmt.Fprintf(deps.Stdout, "Refreshed %s (%d summaries)\n", article.URL, len(article.Summaries))
	fmt.Fprintf(deps.Stdout, "Remaining requests: %d\n", deps.App.Remaining())

	return nil
}

// Run executes the list command.
func (c *ListCmd) Run(deps *Dependencies) error {
	items := deps.App.List(deps.Ctx)
	if len(items) == 0 {
		fmt.Fprintln(deps.Stdout, "No summaries yet. Use 'pagesum summarise URL' to create one.")
		return nil
	}

	for _, item := range items {
		title := item.Title
		if title == "" {
			title = item.URL
		}

		fmt.Fprintf(deps.Stdout, "%s  %s  %s  %s\n",
			item.UpdatedAt.Local().Format(timeLayout), item.Domain, title, item.URL)
	}

	return nil
}

// Run executes the show command.
func (c *ShowCmd) Run(deps *Dependencies) error {
	article, err := deps.App.Show(deps.Ctx, c.URL)
	if err != nil {
		return err
	}

	mode, err := pickMode(article, c.Mode)
	if err != nil {
		return err
	}

	printArticleHeader(deps.Stdout, article)

	saved := article.SavedModes()
	if len(saved) > 0 {
		names := make([]string, 0, len(saved))
		for _, m := range saved {
			names = append(names, string(m))
		}
		fmt.Fprintf(deps.Stdout, "Saved modes: %s\n", strings.Join(names, ", "))
	}

	if summary, ok := article.Summaries[mode]; ok {
		fmt.Fprintf(deps.Stdout, "\n## %s (%s)\n\n%s\n",
			mode.Label(), summary.UpdatedAt.Local().Format(timeLayout), summary.Text)
	} else {
		fmt.Fprintf(deps.Stdout, "\nNo %s summary yet. Run 'pagesum summarise -m %s %s'.\n",
			mode.Label(), mode, article.URL)
	}

	if c.Full && article.Content != "" {
		fmt.Fprintf(deps.Stdout, "\n---\n\n%s\n", article.Content)
	}

	return nil
}

// Run executes the delete command.
func (c *DeleteCmd) Run(deps *Dependencies) error {
	if _, err := deps.App.Show(deps.Ctx, c.URL); err != nil {
		return err
	}

	deps.App.Delete(deps.Ctx, c.URL)
	fmt.Fprintf(deps.Stdout, "Deleted %s\n", c.URL)

	return nil
}

// Run executes the clear command.
func (c *ClearCmd) Run(deps *Dependencies) error {
	if !c.Force {
		return errors.New("use --force to confirm deletion of every stored summary")
	}

	deps.App.Clear(deps.Ctx)
	fmt.Fprintln(deps.Stdout, "Cleared all stored summaries")

	return nil
}

// Run executes the remaining command.
func (c *RemainingCmd) Run(deps *Dependencies) error {
	fmt.Fprintf(deps.Stdout, "Remaining requests: %d\n", deps.App.Remaining())

	if !c.Server || deps.Server == nil {
		return nil
	}

	status, err := deps.Server.RateLimit(deps.Ctx)
	if err != nil {
		return fmt.Errorf("query server quota: %w", err)
	}

	fmt.Fprintf(deps.Stdout, "Server: %d of %d per %s\n",
		status.Remaining, status.Limit, time.Duration(status.WindowSeconds)*time.Second)

	return nil
}

// Run executes the reset-limit command.
func (c *ResetLimitCmd) Run(deps *Dependencies) error {
	deps.App.ResetLimit()
	fmt.Fprintf(deps.Stdout, "Remaining requests: %d\n", deps.App.Remaining())

	return nil
}

// Run executes the modes command.
func (c *ModesCmd) Run(deps *Dependencies) error {
	for _, m := range domain.Modes {
		fmt.Fprintf(deps.Stdout, "%-20s %s\n", m, m.Label())
	}
	return nil
}

// Run executes the batch command. Each store write is reported as it happens.
func (c *BatchCmd) Run(deps *Dependencies) error {
	input, err := io.ReadAll(deps.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	urls := findURLs(string(input))
	if len(urls) == 0 {
		fmt.Fprintln(deps.Stdout, "No URLs found on stdin.")
		return nil
	}

	changes, cancel := deps.App.Subscribe()
	done := make(chan int)

	go func() {
		writes := 0
		for range changes {
			writes++
			fmt.Fprintf(deps.Stderr, "store updated (%d writes)\n", writes)
		}
		done <- writes
	}()

	var errs []error
	for _, u := range urls {
		res, sumErr := deps.App.Summarise(deps.Ctx, u, domain.Mode(c.Mode))
		if sumErr != nil {
			fmt.Fprintf(deps.Stdout, "FAIL %s: %s\n", u, errorMessage(sumErr))
			errs = append(errs, fmt.Errorf("%s: %w", u, sumErr))

			if errors.Is(sumErr, domain.ErrRateLimited) || deps.Ctx.Err() != nil {
				break
			}

			continue
		}

		state := "new"
		if res.Cached {
			state = "cached"
		}
		fmt.Fprintf(deps.Stdout, "OK   %s (%s)\n", u, state)
	}

	cancel()
	<-done

	fmt.Fprintf(deps.Stdout, "Remaining requests: %d\n", deps.App.Remaining())

	return errors.Join(errs...)
}

// Run executes the stats command.
func (c *StatsCmd) Run(deps *Dependencies) error {
	items := deps.App.List(deps.Ctx)

	summaries := 0
	for _, item := range items {
		if article, err := deps.App.Show(deps.Ctx, item.URL); err == nil {
			summaries += len(article.Summaries)
		}
	}

	fmt.Fprintf(deps.Stdout, "Summarised pages: %d\n", len(items))
	fmt.Fprintf(deps.Stdout, "Stored summaries: %d\n", summaries)
	fmt.Fprintf(deps.Stdout, "Remaining requests: %d\n", deps.App.Remaining())

	if deps.Keys == nil {
		return nil
	}

	keys, err := deps.Keys(deps.Ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	fmt.Fprintf(deps.Stdout, "Backend keys: %s\n", strings.Join(keys, ", "))

	return nil
}

// pickMode returns the requested mode, else the first saved one, else the default.
func pickMode(article *domain.StoredArticle, requested string) (domain.Mode, error) {
	if requested != "" {
		return domain.ParseMode(requested)
	}

	if saved := article.SavedModes(); len(saved) > 0 {
		return saved[0], nil
	}

	return domain.DefaultMode, nil
}

func printArticleHeader(w io.Writer, article *domain.StoredArticle) {
	if article.Title != "" {
		fmt.Fprintf(w, "# %s\n", article.Title)
	}
	if article.Author != "" {
		fmt.Fprintf(w, "By %s\n", article.Author)
	}
	fmt.Fprintf(w, "%s\n", article.URL)
}

func printResult(w io.Writer, res app.Result, remaining int) {
	if res.Article != nil {
		printArticleHeader(w, res.Article)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "## %s\n\n%s\n\n", res.Mode.Label(), res.Summary)

	if res.Cached {
		fmt.Fprintln(w, "(stored summary, no request used)")
	}
	fmt.Fprintf(w, "Remaining requests: %d\n", remaining)
}
