package yggdrasil

import (
	"context"
	"io/fs"
	"math/rand"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/gologme/log"
)

type Peer struct {
	URL     url.URL
	Online  bool
	Latency time.Duration
}

const (
	repoURL        = "https://github.com/yggdrasil-network/public-peers"
	localPeersPath = "peers.txt"
	defaultTimeout = 3 * time.Second
)

var peerURLPattern = regexp.MustCompile(`(?m)(tcp|tls)://[^\s` + "`" + `]+`)

func parsePeerURLs(text string) []url.URL {
	var peers []url.URL
	for _, m := range peerURLPattern.FindAllString(text, -1) {
		u, err := url.Parse(strings.TrimSpace(m))
		if err != nil {
			continue
		}
		peers = append(peers, *u)
	}
	return peers
}

func readPeersFile(path string) []url.URL {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return parsePeerURLs(string(data))
}

// getPublicPeers clones the public-peers repository and collects every peer
// URI it lists. It falls back to peers.txt in the working directory.
func getPublicPeers(ctx context.Context, logger *log.Logger) []url.URL {
	tempDir, err := os.MkdirTemp("", "public-peers-*")
	if err != nil {
		return readPeersFile(localPeersPath)
	}
	defer os.RemoveAll(tempDir)

	if _, err = git.PlainCloneContext(ctx, tempDir, false, &git.CloneOptions{URL: repoURL, Depth: 1}); err != nil {
		logger.Warnf("Cannot fetch public peers: %v", err)
		return readPeersFile(localPeersPath)
	}

	var peers []url.URL
	_ = filepath.WalkDir(tempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Debugf("walk error: %v", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") || d.Name() == "README.md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		peers = append(peers, parsePeerURLs(string(data))...)
		return nil
	})

	if len(peers) == 0 {
		return readPeersFile(localPeersPath)
	}
	return peers
}

// GetClosestPeers returns up to n reachable peers ordered by dial latency.
func GetClosestPeers(peerList []url.URL, n int) []url.URL {
	online := testPeers(peerList)
	x := 0
	for _, p := range online {
		if p.Online {
			online[x] = p
			x++
		}
	}
	online = online[:x]
	sort.Slice(online, func(i, j int) bool {
		return online[i].Latency < online[j].Latency
	})

	var result []url.URL
	for i := 0; i < len(online) && len(result) < n; i++ {
		result = append(result, online[i].URL)
	}
	return result
}

// RandomPick picks n distinct peers from the list.
func RandomPick(peerList []url.URL, n int) []url.URL {
	if len(peerList) <= n {
		return peerList
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	res := make([]url.URL, 0, n)
	for _, i := range r.Perm(len(peerList))[:n] {
		res = append(res, peerList[i])
	}
	return res
}

// autoPeers picks three of the twenty fastest public peers.
func autoPeers(ctx context.Context, logger *log.Logger) []string {
	var urls []string
	for _, u := range RandomPick(GetClosestPeers(getPublicPeers(ctx, logger), 20), 3) {
		urls = append(urls, u.String())
	}
	return urls
}

func testPeers(peers []url.URL) []Peer {
	results := make(chan Peer)
	for _, p := range peers {
		go testPeer(p, results)
	}
	res := make([]Peer, 0, len(peers))
	for range peers {
		res = append(res, <-results)
	}
	return res
}

func testPeer(peer url.URL, results chan<- Peer) {
	p := Peer{URL: peer}
	if peer.Scheme != "tcp" && peer.Scheme != "tls" {
		results <- p
		return
	}
	t0 := time.Now()
	conn, err := net.DialTimeout("tcp", peer.Host, defaultTimeout)
	if err == nil {
		p.Latency = time.Since(t0)
		p.Online = true
		conn.Close()
	}
	results <- p
}
