package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-pluto/clustered/collections"
	"github.com/go-pluto/clustered/comm"
	"github.com/pkg/errors"
)

// Structs

// replica is the part of a replicated collection
// the interactive shell works with.
type replica interface {
	Show() string
	Exec(cmd string, args []string) error
	Usage() string
	Channel() comm.Channel
	SetUpdateCallback(fn func())
	Close() error
}

type listReplica struct {
	*collections.List[string]
}

type setReplica struct {
	*collections.Set[string]
}

type mapReplica struct {
	*collections.Map[string, string]
}

// Variables

var errUnknownCommand = errors.New("unknown command, try 'help'")

// Functions

func argCount(args []string, n int, usage string) error {

	if len(args) != n {
		return errors.Errorf("usage: %s", usage)
	}

	return nil
}

func (r listReplica) Show() string {
	return fmt.Sprintf("%v", r.Values())
}

func (r listReplica) Usage() string {
	return "add <e> | insert <i> <e> | set <i> <e> | remove <i> | clear"
}

func (r listReplica) Exec(cmd string, args []string) error {

	switch cmd {

	case "add":

		if err := argCount(args, 1, "add <e>"); err != nil {
			return err
		}

		return r.Add(args[0])

	case "insert", "set":

		if err := argCount(args, 2, cmd+" <i> <e>"); err != nil {
			return err
		}

		i, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(err, "bad index %q", args[0])
		}

		if cmd == "insert" {
			return r.Insert(i, args[1])
		}

		_, err = r.Set(i, args[1])

		return err

	case "remove":

		if err := argCount(args, 1, "remove <i>"); err != nil {
			return err
		}

		i, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(err, "bad index %q", args[0])
		}

		_, err = r.RemoveAt(i)

		return err

	case "clear":
		return r.Clear()
	}

	return errUnknownCommand
}

func (r setReplica) Show() string {

	values := r.Values()
	sort.Strings(values)

	return fmt.Sprintf("%v", values)
}

func (r setReplica) Usage() string {
	return "add <e> | remove <e> | clear"
}

func (r setReplica) Exec(cmd string, args []string) error {

	switch cmd {

	case "add", "remove":

		if err := argCount(args, 1, cmd+" <e>"); err != nil {
			return err
		}

		var changed bool
		var err error

		if cmd == "add" {
			changed, err = r.Add(args[0])
		} else {
			changed, err = r.Remove(args[0])
		}

		if (err == nil) && !changed {
			return errors.Errorf("%s %q changed nothing", cmd, args[0])
		}

		return err

	case "clear":
		return r.Clear()
	}

	return errUnknownCommand
}

func (r mapReplica) Show() string {

	entries := r.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	pairs := make([]string, len(entries))
	for i, entry := range entries {
		pairs[i] = fmt.Sprintf("%s=%s", entry.Key, entry.Value)
	}

	return fmt.Sprintf("{%s}", strings.Join(pairs, ", "))
}

func (r mapReplica) Usage() string {
	return "put <k> <v> | remove <k> | clear"
}

func (r mapReplica) Exec(cmd string, args []string) error {

	switch cmd {

	case "put":

		if err := argCount(args, 2, "put <k> <v>"); err != nil {
			return err
		}

		_, _, err := r.Put(args[0], args[1])

		return err

	case "remove":

		if err := argCount(args, 1, "remove <k>"); err != nil {
			return err
		}

		_, _, err := r.Remove(args[0])

		return err

	case "clear":
		return r.Clear()
	}

	return errUnknownCommand
}

// runShell reads commands line by line from in and runs
// them against rep until in is exhausted or 'quit' is read.
func runShell(in io.Reader, out io.Writer, rep replica) error {

	scanner := bufio.NewScanner(in)

	fmt.Fprint(out, "> ")

	for scanner.Scan() {

		fields := strings.Fields(scanner.Text())

		if len(fields) > 0 {

			switch fields[0] {

			case "quit", "exit":
				return nil

			case "help":
				fmt.Fprintf(out, "show | cluster | %s | help | quit\n", rep.Usage())

			case "show":
				fmt.Fprintln(out, rep.Show())

			case "cluster":
				fmt.Fprintln(out, rep.Channel().View().String())

			default:
				if err := rep.Exec(fields[0], fields[1:]); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		}

		fmt.Fprint(out, "> ")
	}

	return scanner.Err()
}
