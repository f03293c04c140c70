package workerpool

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// spawnState accumulates the effect of a SpawnSetup's actions before a
// worker process is started.
type spawnState struct {
	cmd      *exec.Cmd
	fds      map[int]*os.File // target fd (in the child) -> source file
	env      map[string]string
	niceStep int
	uid      *uint32
	gid      *uint32
	groups   []uint32
	openErr  error
}

// SpawnAction is one step of the child spawn setup DSL: an ordered
// sequence of actions conceptually applied between fork and exec. Go's
// os/exec has no fork-time hook, so actions that map directly to Cmd
// fields (stdio, env, dir, credentials) are applied before Start; Nice is
// applied immediately after Start, an approximation of "between fork and
// exec".
type SpawnAction interface {
	apply(*spawnState)
}

type spawnActionFunc func(*spawnState)

func (f spawnActionFunc) apply(s *spawnState) { f(s) }

// Dup assigns source as the child's file descriptor targetFD.
func Dup(targetFD int, source *os.File) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.fds[targetFD] = source })
}

// Keep passes one of the parent's currently-open file descriptors through
// to the same fd number in the child.
func Keep(fd int) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.fds[fd] = os.NewFile(uintptr(fd), "kept") })
}

// Close drops any earlier Stdin, Stdout, Stderr, Stdio, Dup, Keep, or Open
// mapping for fd. An fd left unmapped is not always closed in the child:
// fds 0-2 get os/exec's default (/dev/null), and an unmapped fd below the
// highest mapped fd is filled with /dev/null so the higher fds keep their
// numbers. Unmapped fds above the highest mapped fd are closed.
func Close(fd int) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { delete(s.fds, fd) })
}

// Open opens path in the parent and assigns it to the child's targetFD.
func Open(targetFD int, path string, flag int, perm os.FileMode) SpawnAction {
	return spawnActionFunc(func(s *spawnState) {
		f, err := os.OpenFile(path, flag, perm)
		if err != nil {
			s.openErr = err
			return
		}
		s.fds[targetFD] = f
	})
}

// Env sets one environment variable in the child.
func Env(name, value string) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.env[name] = value })
}

// Chdir sets the child's working directory.
func Chdir(path string) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.cmd.Dir = path })
}

// Nice adjusts the child's scheduling priority by delta, applied
// immediately after the child starts.
func Nice(delta int) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.niceStep = delta })
}

// SetUID sets the child's effective UID.
func SetUID(uid uint32) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.uid = &uid })
}

// SetGID sets the child's effective GID.
func SetGID(gid uint32) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.gid = &gid })
}

// SetGroups sets the child's supplementary group list.
func SetGroups(gids []uint32) SpawnAction {
	return spawnActionFunc(func(s *spawnState) { s.groups = gids })
}

// Stdin, Stdout, Stderr, and Stdio are shorthand for Dup against fd
// 0/1/2/{0,1}.
func Stdin(f *os.File) SpawnAction  { return Dup(0, f) }
func Stdout(f *os.File) SpawnAction { return Dup(1, f) }
func Stderr(f *os.File) SpawnAction { return Dup(2, f) }
func Stdio(f *os.File) SpawnAction {
	return spawnActionFunc(func(s *spawnState) {
		s.fds[0] = f
		s.fds[1] = f
	})
}

// applySpawnSetup runs actions over cmd, in order, and finalizes
// cmd.Stdin/Stdout/Stderr/ExtraFiles/Env/SysProcAttr.
func applySpawnSetup(cmd *exec.Cmd, actions []SpawnAction) error {
	st := &spawnState{cmd: cmd, fds: make(map[int]*os.File), env: make(map[string]string)}
	for _, a := range actions {
		if a != nil {
			a.apply(st)
		}
	}
	if st.openErr != nil {
		return st.openErr
	}

	if f, ok := st.fds[0]; ok {
		cmd.Stdin = f
	}
	if f, ok := st.fds[1]; ok {
		cmd.Stdout = f
	}
	if f, ok := st.fds[2]; ok {
		cmd.Stderr = f
	}

	maxFD := 2
	for fd := range st.fds {
		if fd > maxFD {
			maxFD = fd
		}
	}
	if maxFD > 2 {
		extra := make([]*os.File, maxFD-2)
		for fd := 3; fd <= maxFD; fd++ {
			if f, ok := st.fds[fd]; ok {
				extra[fd-3] = f
			} else {
				devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
				if err != nil {
					return err
				}
				extra[fd-3] = devnull
			}
		}
		cmd.ExtraFiles = extra
	}

	if len(st.env) > 0 {
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		for k, v := range st.env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	if st.uid != nil || st.gid != nil || len(st.groups) > 0 {
		cred := &syscall.Credential{}
		if st.uid != nil {
			cred.Uid = *st.uid
		}
		if st.gid != nil {
			cred.Gid = *st.gid
		}
		if len(st.groups) > 0 {
			cred.Groups = st.groups
		}
		if cmd.SysProcAttr == nil {
			cmd.SysProcAttr = &syscall.SysProcAttr{}
		}
		cmd.SysProcAttr.Credential = cred
	}

	return nil
}

// applyPostStart runs actions whose effect can only take place once the
// child process exists (Nice).
func applyPostStart(pid int, actions []SpawnAction) {
	st := &spawnState{fds: map[int]*os.File{}}
	for _, a := range actions {
		if a != nil {
			a.apply(st)
		}
	}
	if st.niceStep != 0 {
		_ = unix.Setpriority(unix.PRIO_PROCESS, pid, st.niceStep)
	}
}
