package firecracker

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// dialSSH establishes and authenticates an SSH session using whichever of
// the three auth variants from spec.md §4.D/§6 is configured: agent,
// private-key file, or password. authenticated() is asserted (here: the
// handshake succeeding is the assertion — x/crypto/ssh only returns from
// Dial once auth has succeeded) before the connection is handed back.
// Transport selects whether the underlying connection is a regular TCP
// dial to the guest's tap-device address or a vsock dial straight into
// the microVM, per SPEC_FULL.md §2's optional vsock channel.
func dialSSH(cfg SSHConfig, timeout time.Duration) (*ssh.Client, error) {
	auth, err := authMethod(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // guest microVMs are ephemeral and unknown to any host-key store
		Timeout:         timeout,
	}

	if cfg.Transport == transportVsock {
		return dialSSHOverVsock(cfg, clientCfg)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "ssh dial")
	}
	return client, nil
}

// dialSSHOverVsock connects to the guest's vsock CID/port instead of a
// tap-device IP, then runs the SSH handshake over that raw connection —
// the same NewClientConn-over-an-arbitrary-net.Conn idiom x/crypto/ssh
// uses Dial to wrap for TCP.
func dialSSHOverVsock(cfg SSHConfig, clientCfg *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := vsock.Dial(cfg.VsockCID, uint32(cfg.Port), nil)
	if err != nil {
		return nil, errors.Wrap(err, "vsock dial")
	}

	addr := fmt.Sprintf("vsock:%d:%d", cfg.VsockCID, cfg.Port)
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ssh handshake over vsock")
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func authMethod(cfg SSHConfig) (ssh.AuthMethod, error) {
	switch {
	case cfg.UseAgent:
		sock, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return nil, errors.Wrap(err, "connecting to ssh-agent")
		}
		return ssh.PublicKeysCallback(agent.NewClient(sock).Signers), nil

	case cfg.PrivateKeyPath != "":
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading private key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrap(err, "parsing private key")
		}
		return ssh.PublicKeys(signer), nil

	default:
		return ssh.Password(cfg.Password), nil
	}
}

// runScript executes script on the guest through an SSH channel and
// captures stdout, stderr, and exit status, per spec.md §4.D "Executing".
func runScript(client *ssh.Client, script string) (stdout, stderr string, exitCode int, err error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, errors.Wrap(err, "opening ssh session")
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	runErr := session.Run(script)
	if runErr == nil {
		return outBuf.String(), errBuf.String(), 0, nil
	}

	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
	}

	return outBuf.String(), errBuf.String(), -1, errors.Wrap(runErr, "running guest script")
}

// scpUpload implements the classic SCP sink protocol (the "scp -t"
// handshake) over an SSH session: a single-file transfer followed by a
// send-EOF + wait-close, per spec.md §6
// ("SCP for file transfer with explicit send_eof + wait_close
// handshake"). No dedicated SCP library was found in the retrieved
// corpus (see DESIGN.md), so this speaks the wire protocol directly atop
// an x/crypto/ssh session's stdin pipe. The sink's per-step ACK/NACK
// bytes are not read; success is judged only by the remote command's exit
// status.
func scpUpload(client *ssh.Client, remotePath string, content []byte, mode os.FileMode) error {
	session, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, "opening scp session")
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "opening scp stdin")
	}

	errc := make(chan error, 1)
	go func() {
		errc <- session.Run(fmt.Sprintf("scp -t %s", shellDir(remotePath)))
	}()

	fmt.Fprintf(stdin, "C%04o %d %s\n", mode.Perm(), len(content), baseName(remotePath))
	stdin.Write(content)
	fmt.Fprint(stdin, "\x00") // send_eof: trailing NUL terminates the data block

	stdin.Close() // wait_close: the sink process exits once stdin is closed

	return <-errc
}

func shellDir(path string) string {
	idx := len(path) - 1
	for idx >= 0 && path[idx] != '/' {
		idx--
	}
	if idx < 0 {
		return "."
	}
	return path[:idx+1]
}

func baseName(path string) string {
	idx := len(path) - 1
	for idx >= 0 && path[idx] != '/' {
		idx--
	}
	return path[idx+1:]
}
