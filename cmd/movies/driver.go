package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dannyrandall/movies-crud/internal/config"
	"github.com/dannyrandall/movies-crud/internal/movies"
	"github.com/dannyrandall/movies-crud/internal/otel"
)

const tableWaitTimeout = 2 * time.Minute

// errInputClosed is returned by prompts once stdin is exhausted.
var errInputClosed = errors.New("input closed")

var menu = []string{
	"Create Movies Table",
	"Insert Item in Movie Table",
	"Get items from Movie Table",
	"Update item in Movie Table",
	"Delete an Item in Movie Table",
}

// Driver runs the interactive menu loop against a movies table.
type Driver struct {
	Movies   *movies.Store
	Tracer   trace.Tracer
	In       *bufio.Reader
	Out      io.Writer
	Defaults config.Defaults

	// Timeout bounds each request.
	Timeout time.Duration

	// WaitForTable waits for a newly created table to become ACTIVE.
	WaitForTable bool

	// SessionID prefixes log lines when there is no trace to correlate with.
	SessionID string
}

// Run shows the menu until the user declines to continue or input ends.
// Errors the user cannot act on are returned.
func (d *Driver) Run(ctx context.Context) error {
	for {
		d.printMenu()

		selection, err := d.prompt(fmt.Sprintf("Enter the above number(1-%d) to do the following operation: ", len(menu)))
		if err != nil {
			return ignoreClosed(err)
		}

		op := d.operation(strings.TrimSpace(selection))
		if op == nil {
			fmt.Fprintln(d.Out, "Invalid number entered. Please try again.")
			continue
		}

		if err := op(ctx); err != nil {
			return ignoreClosed(err)
		}

		answer, err := d.prompt("Do you want to perform operations on DynamoDB Table again?(y/n): ")
		if err != nil {
			return ignoreClosed(err)
		}
		if strings.TrimSpace(answer) != "y" {
			return nil
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, errInputClosed) {
		return nil
	}
	return err
}

func (d *Driver) printMenu() {
	fmt.Fprintln(d.Out, "Welcome to CRUD Operations in DynamoDB")
	for i, item := range menu {
		fmt.Fprintf(d.Out, "%d - %s\n", i+1, item)
	}
}

func (d *Driver) operation(selection string) func(context.Context) error {
	switch selection {
	case "1":
		return d.createTable
	case "2":
		return d.putMovie
	case "3":
		return d.getMovie
	case "4":
		return d.updateMovie
	case "5":
		return d.deleteMovie
	default:
		return nil
	}
}

func (d *Driver) createTable(ctx context.Context) error {
	var desc string
	err := d.do(ctx, "CreateTable", d.Timeout, func(ctx context.Context, log *log.Logger) error {
		log.Printf("Creating table %q", d.Movies.Table.Name)
		table, err := d.Movies.CreateTable(ctx)
		if err != nil {
			return err
		}
		desc = string(table.TableStatus)
		return nil
	})
	switch {
	case errors.Is(err, movies.ErrTableExists):
		fmt.Fprintln(d.Out, movies.ErrorMessage(err))
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(d.Out, "Creating %s Table succeeded.\n", d.Movies.Table.Name)
	fmt.Fprintf(d.Out, "Table status: %s\n", desc)

	if !d.WaitForTable {
		return nil
	}

	err = d.do(ctx, "WaitUntilActive", tableWaitTimeout, func(ctx context.Context, log *log.Logger) error {
		log.Printf("Waiting for table %q to become active", d.Movies.Table.Name)
		return d.Movies.WaitUntilActive(ctx, tableWaitTimeout)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(d.Out, "Table %s is ACTIVE.\n", d.Movies.Table.Name)
	return nil
}

func (d *Driver) putMovie(ctx context.Context) error {
	key, err := d.readKey()
	if err != nil {
		return err
	}
	plot, err := d.readString("Plot", d.Defaults.Plot)
	if err != nil {
		return err
	}
	rating, err := d.readFloat("Rating", d.Defaults.Rating)
	if err != nil {
		return err
	}

	movie := movies.Movie{
		Key:     key,
		Details: movies.Details{Plot: plot, Rating: rating},
	}

	err = d.do(ctx, "PutMovie", d.Timeout, func(ctx context.Context, log *log.Logger) error {
		log.Printf("Creating movie %+v", movie)
		return d.Movies.PutMovie(ctx, movie)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(d.Out, "Insert in to %s table succeeded.\n", d.Movies.Table.Name)
	return d.print(movie)
}

func (d *Driver) getMovie(ctx context.Context) error {
	key, err := d.readKey()
	if err != nil {
		return err
	}

	var movie *movies.Movie
	err = d.do(ctx, "GetMovie", d.Timeout, func(ctx context.Context, log *log.Logger) error {
		log.Printf("Getting movie %s", key)
		movie, err = d.Movies.GetMovie(ctx, key)
		return err
	})
	switch {
	case errors.Is(err, movies.ErrNotFound):
		fmt.Fprintf(d.Out, "No movie found for %s.\n", key)
		return nil
	case movies.IsRequestError(err):
		fmt.Fprintln(d.Out, movies.ErrorMessage(err))
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(d.Out, "Getting an item from %s Table succeeded.\n", d.Movies.Table.Name)
	return d.print(movie)
}

func (d *Driver) updateMovie(ctx context.Context) error {
	key, err := d.readKey()
	if err != nil {
		return err
	}
	rating, err := d.readFloat("Rating", d.Defaults.Rating)
	if err != nil {
		return err
	}
	plot, err := d.readString("Plot", d.Defaults.Plot)
	if err != nil {
		return err
	}
	actors, err := d.readList("Actors, comma separated ('-' for none)", d.Defaults.Actors)
	if err != nil {
		return err
	}

	var updated movies.Details
	err = d.do(ctx, "UpdateMovie", d.Timeout, func(ctx context.Context, log *log.Logger) error {
		log.Printf("Updating movie %s", key)
		updated, err = d.Movies.UpdateMovie(ctx, key, movies.Details{
			Plot:   plot,
			Rating: rating,
			Actors: actors,
		})
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(d.Out, "Updated item in %s Table succeeded.\n", d.Movies.Table.Name)
	return d.print(updated)
}

func (d *Driver) deleteMovie(ctx context.Context) error {
	key, err := d.readKey()
	if err != nil {
		return err
	}
	threshold, err := d.readFloat("Delete only if rating is at most", d.Defaults.Rating)
	if err != nil {
		return err
	}

	var deleted *movies.Movie
	err = d.do(ctx, "DeleteUnderratedMovie", d.Timeout, func(ctx context.Context, log *log.Logger) error {
		log.Printf("Deleting movie %s if rated at most %v", key, threshold)
		deleted, err = d.Movies.DeleteUnderratedMovie(ctx, key, threshold)
		return err
	})
	switch {
	case errors.Is(err, movies.ErrConditionFailed):
		fmt.Fprintln(d.Out, movies.ErrorMessage(err))
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(d.Out, "Deleting an Item in %s table succeeded.\n", d.Movies.Table.Name)
	return d.print(deleted)
}

// do runs fn in its own span with a request timeout and a logger tagged with
// the trace ID.
func (d *Driver) do(ctx context.Context, name string, timeout time.Duration, fn func(context.Context, *log.Logger) error) error {
	ctx, span := d.tracer().Start(ctx, name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := d.logger(span)
	if err := fn(ctx, log); err != nil {
		log.Printf("%s failed: %s", name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	log.Printf("%s succeeded", name)
	return nil
}

func (d *Driver) tracer() trace.Tracer {
	if d.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return d.Tracer
}

func (d *Driver) logger(span trace.Span) *log.Logger {
	prefix := fmt.Sprintf("SESSION: %s - ", d.SessionID)
	if span.SpanContext().HasTraceID() {
		prefix = fmt.Sprintf("AWS-XRAY-TRACE-ID: %s - ", otel.XRayTraceID(span))
	}
	return log.New(log.Writer(), prefix, log.LstdFlags|log.Lmsgprefix)
}

func (d *Driver) print(v any) error {
	enc := json.NewEncoder(d.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// prompt writes msg and reads one line, without its line ending.
func (d *Driver) prompt(msg string) (string, error) {
	fmt.Fprint(d.Out, msg)

	line, err := d.In.ReadString('\n')
	switch {
	case errors.Is(err, io.EOF) && line == "":
		fmt.Fprintln(d.Out)
		return "", errInputClosed
	case err != nil && !errors.Is(err, io.EOF):
		return "", fmt.Errorf("read input: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (d *Driver) readKey() (movies.Key, error) {
	title, err := d.readString("Title", d.Defaults.Title)
	if err != nil {
		return movies.Key{}, err
	}
	year, err := d.readInt("Year", d.Defaults.Year)
	if err != nil {
		return movies.Key{}, err
	}
	return movies.Key{Year: year, Title: title}, nil
}

func (d *Driver) readString(label, def string) (string, error) {
	answer, err := d.prompt(fmt.Sprintf("%s [%s]: ", label, def))
	if err != nil {
		return "", err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (d *Driver) readInt(label string, def int) (int, error) {
	for {
		answer, err := d.readString(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}

		n, err := strconv.Atoi(answer)
		if err == nil {
			return n, nil
		}
		fmt.Fprintf(d.Out, "%q is not a whole number. Please try again.\n", answer)
	}
}

func (d *Driver) readFloat(label string, def float64) (float64, error) {
	for {
		answer, err := d.readString(label, strconv.FormatFloat(def, 'f', -1, 64))
		if err != nil {
			return 0, err
		}

		f, err := strconv.ParseFloat(answer, 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
		fmt.Fprintf(d.Out, "%q is not a number. Please try again.\n", answer)
	}
}

func (d *Driver) readList(label string, def []string) ([]string, error) {
	answer, err := d.readString(label, strings.Join(def, ", "))
	if err != nil {
		return nil, err
	}
	if answer == "-" {
		return nil, nil
	}

	var items []string
	for _, item := range strings.Split(answer, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items, nil
}
