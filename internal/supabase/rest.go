package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

// ErrNoRows はMaybeSingleで該当行が存在しなかったことを表す。
var ErrNoRows = errors.New("no rows returned")

// Query はテーブルに対するクエリビルダー。
// From で生成し、メソッドチェーンで条件を組み立ててExecuteで実行する。
type Query struct {
	client      *Client
	table       string
	method      string
	params      url.Values
	body        any
	prefer      []string
	single      bool
	maybeSingle bool
}

// From はテーブルに対するクエリを開始する。
func (c *Client) From(table string) *Query {
	return &Query{
		client: c,
		table:  table,
		method: http.MethodGet,
		params: url.Values{},
	}
}

// Select は取得するカラムを指定する。埋め込みリソース指定も可能。
// 例: "*,organizer:profiles!organizer_id(id,full_name,avatar_url)"
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", compactColumns(columns))
	return q
}

// Eq は column = value の条件を追加する。
func (q *Query) Eq(column, value string) *Query {
	q.params.Add(column, "eq."+value)
	return q
}

// Order は並び順を指定する。
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.params.Set("order", column+"."+dir)
	return q
}

// Insert は行を挿入し、挿入後の行を返すよう要求する。
func (q *Query) Insert(row any) *Query {
	q.method = http.MethodPost
	q.body = row
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Upsert は主キー重複時に既存行へマージする挿入を行う。
func (q *Query) Upsert(row any) *Query {
	q.method = http.MethodPost
	q.body = row
	q.prefer = append(q.prefer, "resolution=merge-duplicates", "return=representation")
	return q
}

// Update は条件に一致する行を更新する。Eqと組み合わせて使用する。
func (q *Query) Update(values any) *Query {
	q.method = http.MethodPatch
	q.body = values
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Single は結果がちょうど1行であることを要求する。
// 0行または複数行の場合はバックエンドがエラーを返す。
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// MaybeSingle は結果が0行または1行であることを要求する。
// 0行の場合ExecuteはErrNoRowsを返す。
func (q *Query) MaybeSingle() *Query {
	q.maybeSingle = true
	return q
}

// Execute はクエリを実行し、結果をoutにデコードする。
// outがnilの場合は結果を読み捨てる。
func (q *Query) Execute(ctx context.Context, out any) error {
	token, err := q.client.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if q.body != nil {
		body, err = jsonBody(q.body)
		if err != nil {
			return err
		}
	}

	headers := map[string]string{}
	if len(q.prefer) > 0 {
		headers["Prefer"] = strings.Join(q.prefer, ",")
	}
	if q.single {
		headers["Accept"] = "application/vnd.pgrst.object+json"
	}

	req := request{
		op:      fmt.Sprintf("rest.%s.%s", strings.ToLower(q.method), q.table),
		method:  q.method,
		path:    "/rest/v1/" + url.PathEscape(q.table),
		query:   q.params,
		body:    body,
		headers: headers,
		bearer:  token,
	}

	if !q.maybeSingle {
		return q.client.send(ctx, req, out)
	}

	// MaybeSingle は配列で受け取り、件数を確認してから1行をデコードする
	var rows []json.RawMessage
	if err := q.client.send(ctx, req, &rows); err != nil {
		return err
	}
	switch len(rows) {
	case 0:
		return ErrNoRows
	case 1:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(rows[0], out); err != nil {
			return &TransportError{Op: req.op, Err: fmt.Errorf("failed to decode row: %w", err)}
		}
		return nil
	default:
		return &Error{
			Status:  http.StatusNotAcceptable,
			Code:    "PGRST116",
			Message: "JSON object requested, multiple (or no) rows returned",
			Details: fmt.Sprintf("The result contains %d rows", len(rows)),
		}
	}
}

// RPC はストアドファンクションを呼び出し、結果をoutにデコードする。
func (c *Client) RPC(ctx context.Context, fn string, params any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	if params == nil {
		params = map[string]any{}
	}
	body, err := jsonBody(params)
	if err != nil {
		return err
	}
	return c.send(ctx, request{
		op:     "rpc." + fn,
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + url.PathEscape(fn),
		body:   body,
		bearer: token,
	}, out)
}

// compactColumns はカラム指定から空白を除去する。
func compactColumns(columns string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, columns)
}
