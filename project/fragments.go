package project

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"

	"picocontrol/jsonc"
)

const projectIDKey = "projectId"

// Toolchain overrides the debugger and debug server named in launch fragments.
// Empty fields keep whatever the fragment says.
type Toolchain struct {
	GDB            string
	OpenOCD        string
	OpenOCDScripts string
}

// loadFragment reads the array member key of .theia/<file> from the resources.
// ok is false when the fragment file does not exist.
func loadFragment(resources fs.FS, file, key string) (entries []jsonc.Entry, ok bool, err error) {
	data, err := fs.ReadFile(resources, path.Join(theiaDir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s fragment: %w", file, err)
	}
	doc, err := jsonc.Parse(data, false)
	if err != nil {
		return nil, false, fmt.Errorf("%s fragment: %w", file, err)
	}
	entries, err = doc.Entries(key)
	if err != nil {
		return nil, false, fmt.Errorf("%s fragment: %w", file, err)
	}
	return entries, true, nil
}

// projectTasks rewrites a task fragment for one project: every label gets the
// project suffix and every cwd points inside the project folder.
func projectTasks(tasks []jsonc.Entry, name, projectID string) []jsonc.Entry {
	for _, task := range tasks {
		label, _ := task["label"].(string)
		task["label"] = Label(label, name)

		options, _ := task["options"].(map[string]any)
		if options == nil {
			options = map[string]any{}
			task["options"] = options
		}
		cwd, _ := options["cwd"].(string)
		if cwd == "" {
			cwd = "${workspaceFolder}"
		}
		options["cwd"] = cwd + "/" + name
		task[projectIDKey] = projectID
	}
	return tasks
}

// ProgramPath is the workspace-relative ELF a project build produces.
func ProgramPath(name string) string {
	return fmt.Sprintf("${workspaceFolder}/%s/build/%s.elf", name, name)
}

// projectLaunches rewrites a launch fragment for one project.
func projectLaunches(launches []jsonc.Entry, name, projectID string, tc Toolchain) []jsonc.Entry {
	program := ProgramPath(name)
	for _, launch := range launches {
		label, _ := launch["name"].(string)
		launch["name"] = Label(label, name)
		launch["program"] = program
		if pre, ok := launch["preLaunchTask"].(string); ok && pre != "" {
			launch["preLaunchTask"] = Label(pre, name)
		}

		initCommands, _ := launch["initCommands"].([]any)
		launch["initCommands"] = append(initCommands, "load "+program)

		if tc.GDB != "" {
			launch["gdb"] = tc.GDB
		}
		if target, ok := launch["target"].(map[string]any); ok {
			if tc.OpenOCD != "" {
				target["server"] = tc.OpenOCD
			}
			if tc.OpenOCDScripts != "" {
				target["serverParameters"] = rewriteScriptsDir(target["serverParameters"], tc.OpenOCDScripts)
			}
		}
		launch[projectIDKey] = projectID
	}
	return launches
}

// rewriteScriptsDir replaces the argument following "-s".
func rewriteScriptsDir(params any, dir string) any {
	list, ok := params.([]any)
	if !ok {
		return params
	}
	for i := 0; i+1 < len(list); i++ {
		if s, _ := list[i].(string); s == "-s" {
			list[i+1] = dir
		}
	}
	return list
}

// findTask returns the entry whose label equals label.
func findTask(tasks []jsonc.Entry, label string) jsonc.Entry {
	for _, task := range tasks {
		if l, _ := task["label"].(string); l == label {
			return task
		}
	}
	return nil
}

// matchProject matches workspace entries generated for a project. With a
// known project id only entries carrying one of ids match, so hand-written
// entries that happen to share the label suffix survive. Projects created
// before ids existed have none, and then the label suffix decides.
func matchProject(labelKey, name string, ids ...string) func(jsonc.Entry) bool {
	return func(entry jsonc.Entry) bool {
		if len(ids) > 0 {
			id, _ := entry[projectIDKey].(string)
			return id != "" && slices.Contains(ids, id)
		}
		label, _ := entry[labelKey].(string)
		return HasSuffix(label, name)
	}
}

func hasProjectEntry(entries []jsonc.Entry, projectID string) bool {
	for _, e := range entries {
		if id, _ := e[projectIDKey].(string); id == projectID {
			return true
		}
	}
	return false
}
